package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/systeminit/workspace-engine/scheduler"
)

// pollInterval is how often DispatchLoop asks the store for newly ready
// actions when it isn't already saturated at concurrency.
const pollInterval = 500 * time.Millisecond

// DispatchLoop polls store.Ready and runs claimed actions through sched,
// bounded to concurrency simultaneous Scheduler.Run calls. It exits when
// ctx is cancelled.
//
// Grounded on worker/pool.go's dequeue-claim-process shape, polling
// scheduler.Store.Ready directly instead of riding a generic job-queue
// abstraction: that shape is keyed to a Dequeue/MarkProcessing/FailJob
// contract rather than the dependency-gated Claim rule actions need,
// and relstore has no implementation of one to supply.
func DispatchLoop(ctx context.Context, sched *scheduler.Scheduler, store scheduler.Store, concurrency int, logger *logrus.Entry) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
		}

		ready, err := store.Ready(ctx)
		if err != nil {
			logger.WithError(err).Warn("list ready actions")
			continue
		}

		for _, action := range ready {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return
			}

			wg.Add(1)
			go func(a *scheduler.Action) {
				defer wg.Done()
				defer func() { <-sem }()

				claimed, err := sched.Claim(ctx, a)
				if err != nil {
					logger.WithError(err).WithField("action", a.ID).Warn("claim action")
					return
				}
				if !claimed {
					return
				}
				if err := sched.Run(ctx, a); err != nil {
					logger.WithError(err).WithField("action", a.ID).Warn("run action")
				}
			}(action)
		}
	}
}
