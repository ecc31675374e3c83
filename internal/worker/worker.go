// Package worker drains the notification outbox: each pass fetches a
// bounded batch of pending rows and attempts delivery row by row, with
// bounded retry and strict per-row failure isolation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/InstruktAI/TeleClaude-sub007/internal/channels"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
)

// Config tunes the delivery loop. All values are operator configuration.
type Config struct {
	Interval      time.Duration
	BatchSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	RatePerSecond float64
}

// BackoffFunc returns how long a row must rest after its n-th failed
// attempt before it is retried. Pluggable; the default is a fixed
// interval.
type BackoffFunc func(retryCount int) time.Duration

// Worker is the background delivery loop.
type Worker struct {
	store   outbox.Store
	senders map[string]channels.Sender
	cfg     Config
	backoff BackoffFunc
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a Worker dispatching to the given per-channel senders.
func New(store outbox.Store, senders map[string]channels.Sender, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}

	w := &Worker{
		store:   store,
		senders: senders,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		now:     time.Now,
	}
	w.backoff = func(int) time.Duration { return cfg.RetryBackoff }
	return w
}

// SetBackoff replaces the retry backoff policy.
func (w *Worker) SetBackoff(fn BackoffFunc) {
	if fn != nil {
		w.backoff = fn
	}
}

// Run processes batches until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("notification worker started",
		"interval", w.cfg.Interval,
		"batch_size", w.cfg.BatchSize,
		"max_retries", w.cfg.MaxRetries)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("notification worker stopped")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// processBatch drains one batch. Returns the number of rows settled
// (delivered or permanently failed) for observability and tests.
func (w *Worker) processBatch(ctx context.Context) int {
	rows, err := w.store.FetchPending(w.cfg.BatchSize)
	if err != nil {
		slog.Error("fetching pending notifications", "error", err)
		return 0
	}

	settled := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return settled
		}
		if w.deliverOne(ctx, row) {
			settled++
		}
	}
	return settled
}

// deliverOne attempts one row. Every failure path is contained here:
// a bad row never stops or delays its siblings in the batch.
func (w *Worker) deliverOne(ctx context.Context, row outbox.Row) (settled bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic delivering notification", "row_id", row.ID, "panic", r)
			w.markFailed(row, fmt.Sprintf("internal panic: %v", r))
		}
	}()

	// Respect the backoff window after a failed attempt.
	if row.RetryCount > 0 {
		due := row.UpdatedAt.Add(w.backoff(row.RetryCount))
		if w.now().Before(due) {
			return false
		}
	}

	sender, ok := w.senders[row.DeliveryChannel]
	if !ok {
		slog.Error("no sender for delivery channel",
			"row_id", row.ID,
			"channel", row.DeliveryChannel)
		if err := w.store.MarkFailed(row.ID, "unsupported delivery channel", true); err != nil {
			slog.Error("marking row failed", "row_id", row.ID, "error", err)
		}
		return true
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return false
	}

	if err := sender.Send(ctx, row.RecipientAddress, row.RenderedText); err != nil {
		slog.Warn("notification delivery failed",
			"row_id", row.ID,
			"channel", row.DeliveryChannel,
			"retry_count", row.RetryCount,
			"error", err)
		return w.markFailed(row, err.Error())
	}

	if err := w.store.MarkDelivered(row.ID); err != nil {
		slog.Error("marking row delivered", "row_id", row.ID, "error", err)
		return false
	}
	slog.Info("notification delivered",
		"row_id", row.ID,
		"channel", row.DeliveryChannel,
		"source_key", row.SourceKey)
	return true
}

// markFailed records the failure, settling the row permanently once the
// retry bound is exhausted. Permanently failed rows stay in the outbox
// for operator review.
func (w *Worker) markFailed(row outbox.Row, reason string) (settled bool) {
	permanent := row.RetryCount+1 >= w.cfg.MaxRetries
	if permanent {
		slog.Error("notification permanently failed",
			"row_id", row.ID,
			"channel", row.DeliveryChannel,
			"retries", row.RetryCount+1,
			"error", reason)
	}
	if err := w.store.MarkFailed(row.ID, reason, permanent); err != nil {
		slog.Error("marking row failed", "row_id", row.ID, "error", err)
		return false
	}
	return permanent
}
