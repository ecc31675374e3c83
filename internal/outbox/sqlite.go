package outbox

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

var migrations = []string{
	`CREATE TABLE outbox (
		id TEXT PRIMARY KEY,
		source_key TEXT NOT NULL,
		recipient_address TEXT NOT NULL,
		delivery_channel TEXT NOT NULL,
		content_ref TEXT NOT NULL DEFAULT '',
		rendered_text TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (source_key, recipient_address, delivery_channel)
	)`,

	`CREATE INDEX idx_outbox_status ON outbox (status, created_at)`,

	`CREATE TABLE watermarks (
		job TEXT PRIMARY KEY,
		last_notified_at TEXT NOT NULL
	)`,

	`CREATE TABLE adapter_meta (
		session_id TEXT NOT NULL,
		adapter TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (session_id, adapter, key)
	)`,
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs
// migrations. The database file is created with 0600 permissions and
// its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Outbox rows ---

// Insert appends a new pending row. Returns false when a row with the
// same (source_key, recipient_address, delivery_channel) already exists;
// the existing row, whatever its status, is left untouched.
func (s *SQLiteStore) Insert(r *Row) (bool, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	res, err := s.db.Exec(`INSERT OR IGNORE INTO outbox
		(id, source_key, recipient_address, delivery_channel, content_ref,
		 rendered_text, status, retry_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceKey, r.RecipientAddress, r.DeliveryChannel, r.ContentRef,
		r.RenderedText, r.Status, r.RetryCount, r.LastError,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("inserting outbox row: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// FetchPending returns up to limit pending rows, oldest first.
func (s *SQLiteStore) FetchPending(limit int) ([]Row, error) {
	rows, err := s.db.Query(`SELECT id, source_key, recipient_address, delivery_channel,
		content_ref, rendered_text, status, retry_count, last_error, created_at, updated_at
		FROM outbox WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching pending rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

// MarkDelivered settles a row as delivered.
func (s *SQLiteStore) MarkDelivered(id string) error {
	_, err := s.db.Exec(`UPDATE outbox SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		StatusDelivered, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("marking row delivered: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure, incrementing the retry count.
// When permanent is true the row is settled as failed and never retried;
// otherwise it stays pending for a later pass.
func (s *SQLiteStore) MarkFailed(id, lastError string, permanent bool) error {
	status := StatusPending
	if permanent {
		status = StatusFailed
	}
	_, err := s.db.Exec(`UPDATE outbox SET status = ?, retry_count = retry_count + 1,
		last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("marking row failed: %w", err)
	}
	return nil
}

// ListRecent returns the most recently updated rows regardless of status.
func (s *SQLiteStore) ListRecent(limit int) ([]Row, error) {
	rows, err := s.db.Query(`SELECT id, source_key, recipient_address, delivery_channel,
		content_ref, rendered_text, status, retry_count, last_error, created_at, updated_at
		FROM outbox ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

// --- Watermarks ---

// Watermark returns the last-notified instant for a unit of work, or the
// zero time when the job has never been notified.
func (s *SQLiteStore) Watermark(job string) (time.Time, error) {
	var raw string
	err := s.db.QueryRow("SELECT last_notified_at FROM watermarks WHERE job = ?", job).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading watermark: %w", err)
	}
	return parseTime(raw), nil
}

// SetWatermark records the last-notified instant for a unit of work.
func (s *SQLiteStore) SetWatermark(job string, at time.Time) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO watermarks (job, last_notified_at) VALUES (?, ?)`,
		job, formatTime(at.UTC()))
	if err != nil {
		return fmt.Errorf("setting watermark: %w", err)
	}
	return nil
}

// --- Adapter metadata ---

// AdapterMeta reads one per-session adapter metadata value. Returns ""
// when the key has never been set.
func (s *SQLiteStore) AdapterMeta(sessionID, adapter, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM adapter_meta WHERE session_id = ? AND adapter = ? AND key = ?`,
		sessionID, adapter, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading adapter metadata: %w", err)
	}
	return value, nil
}

// SetAdapterMeta writes one per-session adapter metadata value.
func (s *SQLiteStore) SetAdapterMeta(sessionID, adapter, key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO adapter_meta (session_id, adapter, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, adapter, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("writing adapter metadata: %w", err)
	}
	return nil
}

// --- Helpers ---

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.SourceKey, &r.RecipientAddress, &r.DeliveryChannel,
			&r.ContentRef, &r.RenderedText, &r.Status, &r.RetryCount, &r.LastError,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
