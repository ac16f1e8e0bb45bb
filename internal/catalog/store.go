package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. The catalog is
// rebuildable from the session tree, so a mismatch is reported rather than
// migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("catalog schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Session is one catalog row.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Renders      int
}

// Render records a finished timeline render.
type Render struct {
	ID        string
	SessionID string
	FileName  string
	Duration  float64
	SizeBytes int64
	AssetID   string
	CreatedAt time.Time
}

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to rebuild)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Register inserts a session, keeping the original creation time when the
// row already exists.
func (s *Store) Register(ctx context.Context, id string, createdAt time.Time) error {
	ts := formatTime(createdAt)
	err := s.exec(ctx,
		`INSERT INTO sessions (id, created_at, last_active_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO NOTHING`,
		id, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	return nil
}

// Touch records activity. Unknown sessions are inserted so a catalog rebuilt
// after deletion still converges.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	err := s.exec(ctx,
		`INSERT INTO sessions (id, created_at, last_active_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at
         WHERE excluded.last_active_at > sessions.last_active_at`,
		id, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Remove deletes a session row and its renders.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Expired lists sessions idle since before the cutoff, oldest first.
func (s *Store) Expired(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE last_active_at < ? ORDER BY last_active_at`,
		formatTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// List returns every session with its render count, most recently active first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.created_at, s.last_active_at, COUNT(r.id)
         FROM sessions s LEFT JOIN renders r ON r.session_id = s.id
         GROUP BY s.id
         ORDER BY s.last_active_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			rec                 Session
			createdRaw, seenRaw string
		)
		if err := rows.Scan(&rec.ID, &createdRaw, &seenRaw, &rec.Renders); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.CreatedAt = parseTime(createdRaw)
		rec.LastActiveAt = parseTime(seenRaw)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordRender stores a finished render and refreshes the session's activity.
func (s *Store) RecordRender(ctx context.Context, r Render) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := s.Touch(ctx, r.SessionID, r.CreatedAt); err != nil {
		return err
	}
	err := s.exec(ctx,
		`INSERT INTO renders (id, session_id, file_name, duration_seconds, size_bytes, asset_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.FileName, r.Duration, r.SizeBytes, nullableString(r.AssetID), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record render: %w", err)
	}
	return nil
}

// Renders lists a session's renders, newest first.
func (s *Store) Renders(ctx context.Context, sessionID string) ([]Render, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_name, duration_seconds, size_bytes, asset_id, created_at
         FROM renders WHERE session_id = ? ORDER BY created_at DESC, id DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list renders: %w", err)
	}
	defer rows.Close()

	var out []Render
	for rows.Next() {
		var (
			r          Render
			assetID    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.FileName, &r.Duration, &r.SizeBytes, &assetID, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan render: %w", err)
		}
		r.AssetID = assetID.String
		r.CreatedAt = parseTime(createdRaw)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Timestamps are stored as fixed-width UTC strings so lexical order matches
// chronological order in SQL comparisons.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
