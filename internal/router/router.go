// Package router turns a completed unit of work into outbox rows: it
// resolves who should hear about the result and enqueues one durable
// delivery per recipient. Actual sending happens later, in the worker.
package router

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/InstruktAI/TeleClaude-sub007/internal/directory"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
)

// Category decides the discovery rule for a unit of work.
type Category string

const (
	// CategorySubscription notifies only the enabled subscribers of the job.
	CategorySubscription Category = "subscription"
	// CategorySystem notifies all administrators plus enabled opt-in
	// subscribers, deduplicated per person.
	CategorySystem Category = "system"
)

// Router resolves recipients and enqueues outbox rows.
type Router struct {
	dir   *directory.Directory
	store outbox.Store
}

// New creates a Router over the given directory and outbox store.
func New(dir *directory.Directory, store outbox.Store) *Router {
	return &Router{dir: dir, store: store}
}

// DiscoverRecipients returns the delivery targets for a unit of work.
// Disabled subscriptions never appear: the directory filters them before
// any routing logic runs.
func (r *Router) DiscoverRecipients(job string, category Category) []directory.Recipient {
	switch category {
	case CategorySystem:
		return r.dir.SystemRecipients(job)
	default:
		return r.dir.JobSubscribers(job)
	}
}

// Enqueue inserts one pending outbox row per recipient under the given
// idempotency key. Re-invoking with the same key and recipient set adds
// zero rows; already-settled rows are left untouched. Returns the IDs of
// the rows actually inserted.
func (r *Router) Enqueue(sourceKey, contentRef, renderedText string, recipients []directory.Recipient) ([]string, error) {
	var ids []string
	for _, rec := range recipients {
		row := &outbox.Row{
			SourceKey:        sourceKey,
			RecipientAddress: rec.Address,
			DeliveryChannel:  rec.Channel,
			ContentRef:       contentRef,
			RenderedText:     renderedText,
		}
		inserted, err := r.store.Insert(row)
		if err != nil {
			return ids, fmt.Errorf("enqueueing for %s via %s: %w", rec.Person, rec.Channel, err)
		}
		if inserted {
			ids = append(ids, row.ID)
		}
	}
	return ids, nil
}

// Unseen reports whether the job's result artifact is newer than the
// last-notified watermark. Both instants are compared in UTC so the
// check is stable across machine-local time settings. The mtime is
// truncated to whole seconds, the precision watermarks are stored at,
// so a round-tripped watermark compares equal to the instant it
// recorded.
func (r *Router) Unseen(job, artifactPath string) (bool, time.Time, error) {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("stat result artifact: %w", err)
	}
	mtime := info.ModTime().UTC().Truncate(time.Second)

	wm, err := r.store.Watermark(job)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("reading watermark: %w", err)
	}
	return mtime.After(wm.UTC()), mtime, nil
}

// NotifyResult runs the full discovery pass for one job result: if the
// artifact holds unseen output, enqueue a delivery per recipient and
// advance the watermark. Idempotent end to end: a second pass over the
// same artifact version enqueues nothing.
func (r *Router) NotifyResult(job string, category Category, artifactPath, renderedText string) ([]string, error) {
	unseen, mtime, err := r.Unseen(job, artifactPath)
	if err != nil {
		return nil, err
	}
	if !unseen {
		return nil, nil
	}

	recipients := r.DiscoverRecipients(job, category)
	if len(recipients) == 0 {
		slog.Debug("job result has no recipients", "job", job, "category", string(category))
		// Advance the watermark anyway so the artifact is not re-examined.
		return nil, r.store.SetWatermark(job, mtime)
	}

	sourceKey := fmt.Sprintf("%s@%d", job, mtime.Unix())
	ids, err := r.Enqueue(sourceKey, artifactPath, renderedText, recipients)
	if err != nil {
		return ids, err
	}

	if err := r.store.SetWatermark(job, mtime); err != nil {
		return ids, fmt.Errorf("advancing watermark: %w", err)
	}

	slog.Info("job result routed",
		"job", job,
		"category", string(category),
		"recipients", len(recipients),
		"enqueued", len(ids))
	return ids, nil
}
