package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InstruktAI/TeleClaude-sub007/internal/config"
	"github.com/InstruktAI/TeleClaude-sub007/internal/directory"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
)

func newTestRouter(t *testing.T) (*Router, *outbox.SQLiteStore) {
	t.Helper()
	store, err := outbox.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := directory.New(map[string]config.Person{
		"admin": {
			Role:    "admin",
			Contact: config.Contact{PreferredChannel: "telegram", Address: "9001"},
		},
		"bob": {
			Role: "member",
			Subscriptions: []config.Subscription{
				{
					Type: "job", Job: "weekly-report", Enabled: true,
					Notification: config.NotificationTarget{PreferredChannel: "discord", Address: "bob#42"},
				},
			},
		},
		"carol": {
			Role: "member",
			Subscriptions: []config.Subscription{
				{
					Type: "job", Job: "weekly-report", Enabled: true,
					Notification: config.NotificationTarget{PreferredChannel: "email", Address: "carol@example.com"},
				},
			},
		},
		"dave": {
			Role: "member",
			Subscriptions: []config.Subscription{
				{
					Type: "job", Job: "weekly-report", Enabled: false,
					Notification: config.NotificationTarget{PreferredChannel: "telegram", Address: "4004"},
				},
			},
		},
	})

	return New(dir, store), store
}

func writeArtifact(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("report body"), 0600))
	return path
}

func TestDiscoverRecipients_SubscriptionCategory(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	rs := r.DiscoverRecipients("weekly-report", CategorySubscription)
	require.Len(t, rs, 2, "two enabled subscribers, one disabled is invisible")
	assert.Equal(t, "bob", rs[0].Person)
	assert.Equal(t, "carol", rs[1].Person)
}

func TestDiscoverRecipients_SystemCategoryIncludesAdmins(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	rs := r.DiscoverRecipients("weekly-report", CategorySystem)
	require.Len(t, rs, 3)
	assert.Equal(t, "admin", rs[0].Person)
}

func TestEnqueue_Idempotent(t *testing.T) {
	t.Parallel()
	r, store := newTestRouter(t)

	recipients := r.DiscoverRecipients("weekly-report", CategorySubscription)

	ids, err := r.Enqueue("weekly-report@100", "ref", "text", recipients)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	ids, err = r.Enqueue("weekly-report@100", "ref", "text", recipients)
	require.NoError(t, err)
	assert.Empty(t, ids, "second pass enqueues zero new rows")

	rows, err := store.FetchPending(10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestNotifyResult_EnqueuesOnceAndAdvancesWatermark(t *testing.T) {
	t.Parallel()
	r, store := newTestRouter(t)

	artifact := writeArtifact(t, "weekly-report.md")

	ids, err := r.NotifyResult("weekly-report", CategorySubscription, artifact, "report ready")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// Same artifact version: nothing unseen, nothing enqueued.
	ids, err = r.NotifyResult("weekly-report", CategorySubscription, artifact, "report ready")
	require.NoError(t, err)
	assert.Empty(t, ids)

	wm, err := store.Watermark("weekly-report")
	require.NoError(t, err)
	assert.False(t, wm.IsZero())
}

func TestNotifyResult_NewArtifactVersionNotifiesAgain(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	artifact := writeArtifact(t, "weekly-report.md")

	ids, err := r.NotifyResult("weekly-report", CategorySubscription, artifact, "run 1")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// A later run rewrites the artifact with a newer mtime.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(artifact, future, future))

	ids, err = r.NotifyResult("weekly-report", CategorySubscription, artifact, "run 2")
	require.NoError(t, err)
	assert.Len(t, ids, 2, "a newer artifact version re-notifies")
}

func TestNotifyResult_MissingArtifact(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	_, err := r.NotifyResult("weekly-report", CategorySubscription, "/nonexistent/report.md", "x")
	require.Error(t, err)
}

func TestNotifyResult_NoRecipientsStillAdvancesWatermark(t *testing.T) {
	t.Parallel()
	r, store := newTestRouter(t)

	artifact := writeArtifact(t, "nightly-digest.md")

	ids, err := r.NotifyResult("nightly-digest", CategorySubscription, artifact, "x")
	require.NoError(t, err)
	assert.Empty(t, ids)

	wm, err := store.Watermark("nightly-digest")
	require.NoError(t, err)
	assert.False(t, wm.IsZero(), "artifact is not re-examined on the next pass")
}

func TestUnseen_ComparesInUTC(t *testing.T) {
	t.Parallel()
	r, store := newTestRouter(t)

	artifact := writeArtifact(t, "weekly-report.md")
	info, err := os.Stat(artifact)
	require.NoError(t, err)

	// Watermark stored from a non-UTC zone representation of the same instant.
	loc := time.FixedZone("UTC+9", 9*3600)
	require.NoError(t, store.SetWatermark("weekly-report", info.ModTime().In(loc)))

	unseen, _, err := r.Unseen("weekly-report", artifact)
	require.NoError(t, err)
	assert.False(t, unseen, "identical instant in another zone is not newer")
}

func TestNotifyResult_SubSecondMtimeIsIdempotent(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	artifact := writeArtifact(t, "weekly-report.md")

	// Filesystems commonly record nanosecond mtimes; the watermark is
	// stored at second precision and must still cover the artifact.
	frac := time.Now().Truncate(time.Second).Add(300 * time.Millisecond)
	require.NoError(t, os.Chtimes(artifact, frac, frac))

	ids, err := r.NotifyResult("weekly-report", CategorySubscription, artifact, "report ready")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	unseen, _, err := r.Unseen("weekly-report", artifact)
	require.NoError(t, err)
	assert.False(t, unseen, "stored watermark covers the fractional mtime")

	ids, err = r.NotifyResult("weekly-report", CategorySubscription, artifact, "report ready")
	require.NoError(t, err)
	assert.Empty(t, ids, "unchanged artifact does not re-notify")
}
