// Package mqueue implements the System V–style keyed message queues of
// spec.md §4.4: up to MQMAX queues, each backed by one physical page,
// storing typed variable-length messages with blocking send on full and
// blocking receive on type mismatch or empty.
package mqueue

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"toykernel/internal/vm"
	"toykernel/kernel"
)

type queue struct {
	key      int
	inUse    bool
	page     vm.Page
	curBytes int
	maxBytes int
	refcount int

	// sendChan/recvChan are the rendezvous keys blocked senders/receivers
	// sleep on, replacing the source's global wqueue/rqueue FIFO
	// bookkeeping arrays: since every blocker already sleeps on a channel
	// tied to this queue rather than its own identity, a single Wakeup
	// call reaches exactly the blockers the FIFO arrays would have — see
	// DESIGN.md.
	sendChan kernel.Chan
	recvChan kernel.Chan
}

// Manager owns the MQMAX-slot message-queue table and wires into a Kernel
// as its MQHooks implementation, so fork/wait refcounting (spec.md
// §4.2's addmqcount/releasemq2) stays centralised here instead of leaking
// mqueue internals back into the kernel package.
type Manager struct {
	mu     sync.Mutex
	k      *kernel.Kernel
	alloc  *vm.PageAllocator
	queues [MQMAX]*queue
	log    zerolog.Logger
}

// NewManager builds a Manager backed by k's page allocator and registers it
// as k's MQHooks.
func NewManager(k *kernel.Kernel) *Manager {
	m := &Manager{
		k:     k,
		alloc: k.PageAllocator(),
		log:   zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "mqueue").Logger(),
	}
	for i := range m.queues {
		m.queues[i] = &queue{}
	}
	k.SetMQHooks(m)
	return m
}

func (m *Manager) findKey(key int) int {
	for i, q := range m.queues {
		if q.inUse && q.key == key {
			return i
		}
	}
	return -1
}

// Get implements mqget(key): attach the caller to the queue with this key,
// creating it if necessary, and return its slot.
func (m *Manager) Get(t *kernel.Task, key int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx := m.findKey(key); idx != -1 {
		q := m.queues[idx]
		bit := uint32(1) << uint(idx)
		if t.MQMask&bit == 0 {
			t.Lock()
			t.MQMask |= bit
			t.Unlock()
			q.refcount++
		}
		return idx, nil
	}

	idx := -1
	for i, q := range m.queues {
		if !q.inUse {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.log.Warn().Int("key", key).Msg("mqget: queue table exhausted")
		return -1, ErrQueuesFull
	}

	page := m.alloc.Kalloc()
	if page == nil {
		m.log.Warn().Int("key", key).Msg("mqget: out of memory")
		return -1, ErrOutOfMemory
	}
	q := &queue{
		key:      key,
		inUse:    true,
		page:     page,
		maxBytes: vm.PGSIZE,
		curBytes: sentinelCost,
		refcount: 1,
	}
	q.sendChan = kernel.ChanOf(q)
	q.recvChan = kernel.ChanOf(&q.recvChan)
	m.queues[idx] = q

	t.Lock()
	t.MQMask |= uint32(1) << uint(idx)
	t.Unlock()

	return idx, nil
}

func (m *Manager) valid(slot int) bool {
	return slot >= 0 && slot < MQMAX && m.queues[slot].inUse
}

// Send implements msgsnd(slot, typ, data): blocks while the queue lacks
// room, then appends the message and wakes blocked receivers.
func (m *Manager) Send(t *kernel.Task, slot int, typ int32, data []byte) error {
	m.mu.Lock()
	if !m.valid(slot) {
		m.mu.Unlock()
		return ErrInvalidSlot
	}
	q := m.queues[slot]
	if sentinelCost+len(data)+nodeStride > q.maxBytes {
		m.mu.Unlock()
		m.log.Warn().Int("slot", slot).Int("size", len(data)).Msg("msgsnd: message too big for queue")
		return ErrMessageTooBig
	}

	for {
		if q.curBytes+len(data)+nodeStride <= q.maxBytes {
			at := tailEnd(q.page)
			writeNode(q.page, at, nodeView{next: 0, typ: typ, size: uint32(len(data))})
			copy(q.page[dataOffset(at):], data)
			linkTail(q.page, at)
			q.curBytes += len(data) + nodeStride

			m.log.Debug().Int("slot", slot).Int("type", int(typ)).Int("size", len(data)).Msg("msgsnd")
			m.mu.Unlock()
			m.k.Wakeup(q.recvChan)
			return nil
		}

		if err := m.k.Sleep(t, q.sendChan, &m.mu); err != nil {
			m.mu.Unlock()
			return ErrKilled
		}
	}
}

// Receive implements msgrcv(slot, typ, buf): blocks until a message of the
// requested type is present, copies it out, compacts the arena, and wakes
// blocked senders.
func (m *Manager) Receive(t *kernel.Task, slot int, typ int32, out *vm.AddressSpace, addr uintptr, maxLen int) error {
	m.mu.Lock()
	if !m.valid(slot) {
		m.mu.Unlock()
		return ErrInvalidSlot
	}
	q := m.queues[slot]

	for {
		prev := uint32(0)
		cur := readNode(q.page, 0).next
		for cur != 0 {
			n := readNode(q.page, cur)
			if n.typ == typ {
				n2 := int(n.size)
				if n2 > maxLen {
					n2 = maxLen
				}
				payload := q.page[dataOffset(cur) : dataOffset(cur)+uint32(n2)]
				if out != nil {
					if err := out.CopyOutString(addr, payload); err != nil {
						m.mu.Unlock()
						return err
					}
				}
				writeNode(q.page, prev, nodeView{next: n.next, typ: readNode(q.page, prev).typ, size: readNode(q.page, prev).size})
				q.curBytes -= int(n.size) + nodeStride
				reloc(q.page)

				m.log.Debug().Int("slot", slot).Int("type", int(typ)).Msg("msgrcv")
				m.mu.Unlock()
				m.k.Wakeup(q.sendChan)
				return nil
			}
			prev = cur
			cur = n.next
		}

		if err := m.k.Sleep(t, q.recvChan, &m.mu); err != nil {
			m.mu.Unlock()
			return ErrKilled
		}
	}
}

// tailEnd walks from the sentinel to the first free offset after the last
// linked node.
func tailEnd(page []byte) uint32 {
	at := uint32(0)
	for {
		n := readNode(page, at)
		if n.next == 0 {
			if at == 0 {
				return nodeStride
			}
			return at + nodeStride + n.size
		}
		at = n.next
	}
}

// linkTail rewrites the current tail's next pointer to point at the
// newly-appended node at newAt.
func linkTail(page []byte, newAt uint32) {
	at := uint32(0)
	for {
		n := readNode(page, at)
		if n.next == 0 {
			writeNode(page, at, nodeView{next: newAt, typ: n.typ, size: n.size})
			return
		}
		at = n.next
	}
}

// Release implements releasemq(key): decrement the key's refcount, freeing
// the backing page at zero.
func (m *Manager) Release(key int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.findKey(key)
	if idx == -1 {
		return
	}
	m.releaseSlotLocked(idx)
}

func (m *Manager) releaseSlotLocked(idx int) {
	q := m.queues[idx]
	q.refcount--
	m.log.Debug().Int("slot", idx).Int("key", q.key).Int("refcount", q.refcount).Msg("release")
	if q.refcount <= 0 {
		m.alloc.Kfree(q.page)
		m.queues[idx] = &queue{}
	}
}

// ReleaseMask implements releasemq2(mask): release every key bit set in
// mask under a single lock acquisition.
func (m *Manager) ReleaseMask(mask uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := 0; idx < MQMAX; idx++ {
		if mask>>uint(idx)&1 == 1 && m.queues[idx].inUse {
			m.releaseSlotLocked(idx)
		}
	}
}

// OnFork implements kernel.MQHooks: bump refcounts for every attached queue
// a forking parent passes on to its child.
func (m *Manager) OnFork(mask uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := 0; idx < MQMAX; idx++ {
		if mask>>uint(idx)&1 == 1 && m.queues[idx].inUse {
			m.queues[idx].refcount++
		}
	}
}

// OnReap implements kernel.MQHooks: releasemq2 for a reaped task's mask.
func (m *Manager) OnReap(mask uint32) {
	m.ReleaseMask(mask)
}
