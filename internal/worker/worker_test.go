package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InstruktAI/TeleClaude-sub007/internal/channels"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
)

// mockSender records sent addresses and fails the ones listed in failing.
type mockSender struct {
	sent    []string
	failing map[string]bool
}

func (m *mockSender) Send(_ context.Context, address, _ string) error {
	if m.failing[address] {
		return assert.AnError
	}
	m.sent = append(m.sent, address)
	return nil
}

// panicSender simulates a sender bug.
type panicSender struct{}

func (panicSender) Send(context.Context, string, string) error { panic("sender bug") }

func newTestWorker(t *testing.T, senders map[string]channels.Sender, cfg Config) (*Worker, *outbox.SQLiteStore) {
	t.Helper()
	store, err := outbox.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 10000 // effectively unpaced in tests
	}
	return New(store, senders, cfg), store
}

func insertRow(t *testing.T, store *outbox.SQLiteStore, source, addr, channel string) {
	t.Helper()
	_, err := store.Insert(&outbox.Row{
		SourceKey:        source,
		RecipientAddress: addr,
		DeliveryChannel:  channel,
		RenderedText:     "hi",
	})
	require.NoError(t, err)
}

func TestWorker_DeliversPendingBatch(t *testing.T) {
	t.Parallel()

	tele := &mockSender{}
	w, store := newTestWorker(t, map[string]channels.Sender{"telegram": tele}, Config{})

	insertRow(t, store, "job:1", "1001", "telegram")
	insertRow(t, store, "job:1", "1002", "telegram")

	settled := w.processBatch(context.Background())
	assert.Equal(t, 2, settled)
	assert.ElementsMatch(t, []string{"1001", "1002"}, tele.sent)

	pending, err := store.FetchPending(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorker_PerRowIsolation(t *testing.T) {
	t.Parallel()

	tele := &mockSender{failing: map[string]bool{"bad-addr": true}}
	w, store := newTestWorker(t, map[string]channels.Sender{"telegram": tele}, Config{MaxRetries: 3})

	insertRow(t, store, "job:1", "1001", "telegram")
	insertRow(t, store, "job:1", "bad-addr", "telegram")
	insertRow(t, store, "job:1", "1003", "telegram")

	w.processBatch(context.Background())

	assert.ElementsMatch(t, []string{"1001", "1003"}, tele.sent,
		"one failing recipient must not block its siblings")

	pending, err := store.FetchPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bad-addr", pending[0].RecipientAddress)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestWorker_UnsupportedChannelFailsPermanently(t *testing.T) {
	t.Parallel()

	tele := &mockSender{}
	w, store := newTestWorker(t, map[string]channels.Sender{"telegram": tele}, Config{})

	insertRow(t, store, "job:1", "addr-1", "carrier-pigeon")
	insertRow(t, store, "job:1", "1002", "telegram")

	w.processBatch(context.Background())

	assert.Equal(t, []string{"1002"}, tele.sent, "sibling row still delivered")

	recent, err := store.ListRecent(10)
	require.NoError(t, err)
	byChannel := map[string]string{}
	for _, r := range recent {
		byChannel[r.DeliveryChannel] = r.Status
	}
	assert.Equal(t, outbox.StatusFailed, byChannel["carrier-pigeon"])
	assert.Equal(t, outbox.StatusDelivered, byChannel["telegram"])
}

func TestWorker_RetryBoundSettlesRowAsFailed(t *testing.T) {
	t.Parallel()

	tele := &mockSender{failing: map[string]bool{"bad-addr": true}}
	w, store := newTestWorker(t, map[string]channels.Sender{"telegram": tele}, Config{MaxRetries: 3})
	w.SetBackoff(func(int) time.Duration { return 0 })

	insertRow(t, store, "job:1", "bad-addr", "telegram")

	for i := 0; i < 3; i++ {
		w.processBatch(context.Background())
	}

	pending, err := store.FetchPending(10)
	require.NoError(t, err)
	assert.Empty(t, pending, "row is settled after the retry bound")

	recent, err := store.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, outbox.StatusFailed, recent[0].Status)
	assert.Equal(t, 3, recent[0].RetryCount)
}

func TestWorker_BackoffDelaysRetry(t *testing.T) {
	t.Parallel()

	tele := &mockSender{failing: map[string]bool{"bad-addr": true}}
	w, store := newTestWorker(t, map[string]channels.Sender{"telegram": tele},
		Config{MaxRetries: 5, RetryBackoff: time.Hour})

	insertRow(t, store, "job:1", "bad-addr", "telegram")

	w.processBatch(context.Background()) // first attempt fails

	tele.failing = nil // the channel recovers
	w.processBatch(context.Background())
	assert.Empty(t, tele.sent, "row is resting inside its backoff window")

	// Once the window has passed the row is retried.
	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	w.processBatch(context.Background())
	assert.Equal(t, []string{"bad-addr"}, tele.sent)
}

func TestWorker_SenderPanicIsContained(t *testing.T) {
	t.Parallel()

	tele := &mockSender{}
	w, store := newTestWorker(t, map[string]channels.Sender{
		"telegram": tele,
		"broken":   panicSender{},
	}, Config{MaxRetries: 1})

	insertRow(t, store, "job:1", "addr-1", "broken")
	insertRow(t, store, "job:1", "1002", "telegram")

	assert.NotPanics(t, func() { w.processBatch(context.Background()) })
	assert.Equal(t, []string{"1002"}, tele.sent)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
