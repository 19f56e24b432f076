package kernel

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// schedCeiling is the priority-scan ceiling design note §4.2 requires:
// implementations must pick a value at least as large as any priority they
// accept. The source uses 19; toykernel accepts any signed priority and
// only uses this as the "no runnable task found yet" sentinel starting
// point for the scan, not as a validation bound.
const schedCeiling = 1 << 30

// Scheduler is the priority-preemptive scheduler of spec.md §4.2: NCPU
// independent workers (the teacher's "M"s), each repeatedly picking the
// lowest-priority-value Runnable task in table order and running it for one
// turn. There is no rotation within a priority value: the task earliest in
// the table is always picked first, so a task that yields while still
// Runnable is picked again ahead of later tasks of the same priority.
type Scheduler struct {
	k    *Kernel
	ncpu int
	tick time.Duration
}

// NewScheduler builds a Scheduler bound to k, using k's configured NCPU and
// dispatch tick.
func NewScheduler(k *Kernel) *Scheduler {
	cfg := k.Config()
	return &Scheduler{k: k, ncpu: cfg.NCPU, tick: time.Duration(cfg.DispatchTick)}
}

// Run starts the scheduler's workers and blocks until ctx is cancelled or a
// worker returns an error. It is the non-returning scheduler loop of
// spec.md §4.2, supervised with golang.org/x/sync/errgroup the way the pack
// supervises goroutine fleets elsewhere (grpc-proxy, eventloop).
func (s *Scheduler) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.ncpu; i++ {
		id := i
		eg.Go(func() error {
			s.workerLoop(ctx, id)
			return nil
		})
	}
	return eg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context, id int) {
	log := s.k.log.With().Int("cpu", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t := s.dispatchOnce()
		if t == nil {
			time.Sleep(s.tick)
			continue
		}
		log.Debug().Int("pid", t.PID).Int("priority", t.Priority).Msg("dispatch")
		t.turn <- struct{}{}
		<-t.yielded
	}
}

// dispatchOnce computes the minimum priority value among currently Runnable
// tasks, then walks the table once in order looking for the first task at
// that priority, claims it (Runnable -> Running) under its own lock, and
// returns it. It returns nil if no task is Runnable right now.
func (s *Scheduler) dispatchOnce() *Task {
	min, ok := s.k.minRunnablePriority()
	if !ok {
		return nil
	}
	for _, t := range s.k.procs {
		t.Lock()
		if t.State == Runnable && t.Priority == min {
			t.State = Running
			t.Unlock()
			return t
		}
		t.Unlock()
	}
	return nil
}

func (k *Kernel) minRunnablePriority() (int, bool) {
	min := schedCeiling
	found := false
	for _, t := range k.procs {
		t.Lock()
		if t.State == Runnable && t.Priority < min {
			min = t.Priority
			found = true
		}
		t.Unlock()
	}
	return min, found
}

// Yield gives up the CPU for one scheduling round: it marks t Runnable and
// relinquishes, returning once some worker dispatches it again.
func (k *Kernel) Yield(t *Task) {
	t.Lock()
	t.State = Runnable
	t.Unlock()
	t.relinquish()
}

// ChangePriority overwrites the priority of the task with the given pid and
// returns that pid, or -1 if no such task exists — chpri(pid, prio) of
// spec.md §4.2. No validation beyond signed-integer range is performed, per
// the source.
func (k *Kernel) ChangePriority(pid, priority int) int {
	for _, t := range k.procs {
		t.Lock()
		if t.State != Unused && t.PID == pid {
			t.Priority = priority
			t.Unlock()
			return pid
		}
		t.Unlock()
	}
	return -1
}

// startTaskGoroutine spawns the persistent goroutine backing t's execution.
// It blocks for its first turn, runs Body to completion (handling any
// internal Yield/Sleep pauses transparently, since those block deep in the
// call stack rather than returning), and performs an implicit exit if Body
// returns without the task having already gone through Exit — the
// behaviour spec.md §4.3 describes for a clone()d thread's entry function
// simply returning. A non-nil error from Body is not swallowed: it exits
// the task with status -1 instead of 0, matching spec.md §8's "non-zero on
// explicit error" (the source has no notion of a Go error, but this is the
// closest analogue to a syscall wrapper returning -1 on failure).
func (k *Kernel) startTaskGoroutine(t *Task) {
	go func() {
		<-t.turn
		var bodyErr error
		if t.Body != nil {
			bodyErr = t.Body(t)
		}
		t.Lock()
		stillAlive := t.State == Running
		t.Unlock()
		if stillAlive {
			status := 0
			if bodyErr != nil {
				status = -1
				k.log.Warn().Int("pid", t.PID).Err(bodyErr).Msg("task body returned an error; exiting non-zero")
			}
			k.exit(t, status)
		}
		t.yielded <- struct{}{}
	}()
}
