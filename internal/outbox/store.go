// Package outbox is the durable notification outbox: delivery work is
// recorded before any send is attempted, so restarts and partial
// failures never silently lose a notification.
package outbox

import (
	"time"
)

// Row statuses. Rows are never deleted; failed rows stay visible as an
// audit trail for operator review.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Row is one pending or settled delivery to one recipient on one
// channel. (SourceKey, RecipientAddress, DeliveryChannel) is unique:
// re-running discovery for the same unit of work creates no duplicates.
type Row struct {
	ID               string
	SourceKey        string // idempotency key of the originating unit of work
	RecipientAddress string
	DeliveryChannel  string
	ContentRef       string // opaque reference to the result artifact
	RenderedText     string
	Status           string
	RetryCount       int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store is the persistence boundary for the notification pipeline.
// No business logic lives here. Defined at the consumer side per Go
// conventions.
type Store interface {
	// Outbox rows
	Insert(row *Row) (inserted bool, err error)
	FetchPending(limit int) ([]Row, error)
	MarkDelivered(id string) error
	MarkFailed(id, lastError string, permanent bool) error
	ListRecent(limit int) ([]Row, error)

	// Last-notified watermarks per unit of work (mailbox flag)
	Watermark(job string) (time.Time, error)
	SetWatermark(job string, at time.Time) error

	// Per-session adapter metadata (e.g. editable status message IDs)
	AdapterMeta(sessionID, adapter, key string) (string, error)
	SetAdapterMeta(sessionID, adapter, key, value string) error

	Close() error
}
