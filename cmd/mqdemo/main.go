// Command mqdemo exercises a message queue across a fork: the parent
// attaches a queue, forks, the child sends one message, and the parent
// receives it.
package main

import (
	"context"
	"os"
	"sync"

	"toykernel/internal/vm"
	"toykernel/kernel"
	"toykernel/mqueue"
)

const recvBufVA = 0x1000

func main() {
	k := kernel.New(kernel.WithNCPU(2))
	log := k.Logger()
	mq := mqueue.NewManager(k)
	sched := kernel.NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var bodyErrMu sync.Mutex
	var bodyErr error
	recordErr := func(err error) {
		if err == nil {
			return
		}
		bodyErrMu.Lock()
		defer bodyErrMu.Unlock()
		if bodyErr == nil {
			bodyErr = err
		}
	}

	childBody := func(t *kernel.Task) (err error) {
		defer wg.Done()
		defer func() { recordErr(err) }()
		slot, err := mq.Get(t, 42)
		if err != nil {
			return err
		}
		if err = mq.Send(t, slot, 1, []byte("hello")); err != nil {
			return err
		}
		log.Info().Msg("child sent \"hello\"")
		k.Exit(t, 0)
		return nil
	}

	wg.Add(1)
	_, err := k.Spawn(func(t *kernel.Task) (err error) {
		defer wg.Done()
		defer func() { recordErr(err) }()
		slot, err := mq.Get(t, 42)
		if err != nil {
			return err
		}

		// A page mapped purely so Receive has somewhere to copyoutstr the
		// message into, standing in for the user buffer a real syscall
		// would validate and copy through.
		t.AddrSpace.MapPages(recvBufVA, []vm.Page{make([]byte, vm.PGSIZE)})

		wg.Add(1)
		if _, err = k.Fork(t, childBody); err != nil {
			wg.Done()
			return err
		}

		buf := make([]byte, 5)
		if err = mq.Receive(t, slot, 1, t.AddrSpace, recvBufVA, len(buf)); err != nil {
			return err
		}
		if err = t.AddrSpace.CopyIn(buf, recvBufVA); err != nil {
			return err
		}
		log.Info().Bytes("message", buf).Msg("parent received")

		mq.Release(42)
		k.Exit(t, 0)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("spawn")
		os.Exit(1)
	}

	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler")
		}
	}()

	wg.Wait()
	cancel()

	if bodyErr != nil {
		log.Error().Err(bodyErr).Msg("task body failed")
		os.Exit(1)
	}
}
