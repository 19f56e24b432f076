// Command priosched demonstrates priority-preemptive scheduling: a parent
// lowers its own priority, forks, and the child raises its priority above
// the parent's before both busy-loop, so the scheduler favours the child.
package main

import (
	"context"
	"os"
	"sync"

	"toykernel/kernel"
)

func busyLoop(t *kernel.Task, k *kernel.Kernel, name string, iterations int) {
	log := k.Logger()
	for i := 0; i < iterations; i++ {
		if i%(iterations/4+1) == 0 {
			log.Info().Str("task", name).Int("i", i).Msg("running")
		}
		// No timer-interrupt preemption exists in this simulation (see
		// DESIGN.md); yielding here is what makes the priority scan
		// actually observable between the two tasks.
		k.Yield(t)
	}
}

func main() {
	k := kernel.New(kernel.WithNCPU(1))
	log := k.Logger()
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
		k.ChangePriority(t.PID, 5)
		busyLoop(t, k, "child", 20)
		log.Info().Msg("child finished")
		k.Exit(t, 0)
		return nil
	}

	wg.Add(1)
	_, err := k.Spawn(func(t *kernel.Task) (err error) {
		defer wg.Done()
		defer func() { recordErr(err) }()
		log.Info().Msg("prio-schedule test")
		k.ChangePriority(t.PID, 19)

		wg.Add(1)
		if _, err = k.Fork(t, childBody); err != nil {
			wg.Done() // the child never ran to call its own wg.Done
			return err
		}

		busyLoop(t, k, "parent", 20)
		log.Info().Msg("parent finished")
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
