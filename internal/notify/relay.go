package notify

import (
	"context"
	"log/slog"
	"time"
)

// Relay retries outbox messages whose post-commit delivery failed or never
// ran, for example because the process died right after commit.
type Relay struct {
	dispatcher  *Dispatcher
	interval    time.Duration
	grace       time.Duration
	maxAttempts int
	batchSize   int
	logger      *slog.Logger
}

// NewRelay creates a new Relay.
func NewRelay(d *Dispatcher, interval, grace time.Duration, maxAttempts, batchSize int, logger *slog.Logger) *Relay {
	return &Relay{
		dispatcher:  d,
		interval:    interval,
		grace:       grace,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay shutting down")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Outbox relay pass failed", "err", err)
			}
		}
	}
}

// RunOnce delivers one batch of due messages and returns how many were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := r.dispatcher.store.Outbox().FindDue(ctx, now, now.Add(-r.grace), r.maxAttempts, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range due {
		if r.dispatcher.deliver(ctx, m) {
			sent++
		}
	}
	if len(due) > 0 {
		r.logger.InfoContext(ctx, "Outbox relay pass", "due", len(due), "sent", sent)
	}
	return sent, nil
}
