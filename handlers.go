package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/notify"
)

// background is a goroutine bound to the server context.
type background struct {
	name string
	run  func(ctx context.Context) error
}

func startBackground(ctx context.Context, wg *sync.WaitGroup, jobs ...background) {
	for _, job := range jobs {
		wg.Add(1)
		go func(job background) {
			defer wg.Done()
			slog.Info("Background worker started", "worker", job.name)
			if err := job.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Background worker stopped", "worker", job.name, "err", err)
				return
			}
			slog.Info("Background worker stopped", "worker", job.name)
		}(job)
	}
}

func relayJob(relay *notify.Relay) background {
	return background{name: "outbox-relay", run: func(ctx context.Context) error {
		relay.Run(ctx)
		return nil
	}}
}

func emailJob(worker *notify.EmailWorker) background {
	return background{name: "email-worker", run: worker.Run}
}

func limiterCleanupJob(cleanup func(ctx context.Context, idle time.Duration)) background {
	return background{name: "rate-limiter-cleanup", run: func(ctx context.Context) error {
		cleanup(ctx, 30*time.Minute)
		return nil
	}}
}
