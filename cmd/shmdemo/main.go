// Command shmdemo exercises shared-memory visibility across two forked
// children: one writes a byte into the shared region, the other reads it
// back.
package main

import (
	"context"
	"os"
	"sync"

	"toykernel/kernel"
	"toykernel/shm"
)

func main() {
	k := kernel.New(kernel.WithNCPU(3))
	log := k.Logger()
	sm := shm.NewManager(k)
	sched := kernel.NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(3)
	var writerDone sync.WaitGroup
	writerDone.Add(1)

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

	writerBody := func(t *kernel.Task) (err error) {
		defer wg.Done()
		defer func() { recordErr(err) }()
		va, err := sm.Get(t, 0, 1)
		if err != nil {
			return err
		}
		if err = t.AddrSpace.CopyOut(va, []byte{0xA5}); err != nil {
			return err
		}
		log.Info().Msg("writer wrote 0xA5")
		writerDone.Done()
		k.Exit(t, 0)
		return nil
	}

	readerBody := func(t *kernel.Task) (err error) {
		defer wg.Done()
		defer func() { recordErr(err) }()
		writerDone.Wait()
		va, err := sm.Get(t, 0, 1)
		if err != nil {
			return err
		}
		buf := make([]byte, 1)
		if err = t.AddrSpace.CopyIn(buf, va); err != nil {
			return err
		}
		log.Info().Hex("byte", buf).Msg("reader observed")
		k.Exit(t, 0)
		return nil
	}

	_, err := k.Spawn(func(t *kernel.Task) (err error) {
		defer wg.Done()
		defer func() { recordErr(err) }()
		if _, err = k.Fork(t, writerBody); err != nil {
			return err
		}
		if _, err = k.Fork(t, readerBody); err != nil {
			return err
		}
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
