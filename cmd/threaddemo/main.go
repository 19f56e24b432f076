// Command threaddemo exercises clone/join: a parent clones a thread sharing
// its address space, the thread writes into a location the parent can
// observe, and the parent joins it before exiting.
package main

import (
	"context"
	"os"
	"sync/atomic"

	"toykernel/kernel"
)

func main() {
	k := kernel.New(kernel.WithNCPU(2))
	log := k.Logger()
	sched := kernel.NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())

	var shared atomic.Int64
	done := make(chan struct{})
	var bodyErr error

	_, err := k.Spawn(func(t *kernel.Task) (err error) {
		defer func() {
			if err != nil {
				bodyErr = err
			}
			close(done)
		}()

		const stackSize = 4096
		stack := k.MyAlloc(t, stackSize)

		threadBody := func(ct *kernel.Task) error {
			log.Info().Msg("hello, I'm the clone thread")
			shared.Store(42)
			return nil
		}

		tid, err := k.Clone(t, stack, threadBody)
		if err != nil {
			return err
		}
		log.Info().Msg("hello, I'm the parent")

		joined, err := k.Join(t)
		if err != nil {
			return err
		}
		if joined != tid {
			log.Error().Int("joined", joined).Int("expected", tid).Msg("join returned an unexpected tid")
		}
		log.Info().Int64("shared", shared.Load()).Msg("shared value after join")

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

	<-done
	cancel()

	if bodyErr != nil {
		log.Error().Err(bodyErr).Msg("task body failed")
		os.Exit(1)
	}
}
