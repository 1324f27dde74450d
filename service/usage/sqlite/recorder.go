// Package sqlite persists usage records in a SQLite database. WAL mode keeps
// concurrent writers from the per-resource workers cheap; a single file is
// enough since usage persistence is per worker process.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"context"

	_ "modernc.org/sqlite"

	"github.com/viant/labq/internal/clock"
	"github.com/viant/labq/model"
	"github.com/viant/labq/service/usage"
)

// Recorder implements usage.Recorder on SQLite.
type Recorder struct {
	db *sql.DB
}

// New opens (or creates) the database and initializes the schema.
func New(path string) (*Recorder, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ret := &Recorder{db: db}
	if err := ret.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate usage db: %w", err)
	}
	return ret, nil
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		reservation_id    TEXT PRIMARY KEY,
		user              TEXT NOT NULL,
		user_role         TEXT,
		laboratory        TEXT NOT NULL,
		resources         TEXT,
		priority          INTEGER,
		assigned_resource TEXT,
		final_status      TEXT,
		url               TEXT,
		submitted_at      TEXT NOT NULL,
		assigned_at       TEXT,
		started_at        TEXT,
		finished_at       TEXT,
		queue_seconds     REAL,
		session_seconds   REAL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user);
	CREATE INDEX IF NOT EXISTS idx_sessions_laboratory ON sessions(laboratory);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *Recorder) RecordSubmission(ctx context.Context, request *model.ReservationRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(reservation_id, user, user_role, laboratory, resources, priority, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		request.Identifier,
		request.UserIdentifier,
		request.UserRole,
		request.Laboratory,
		strings.Join(request.Resources, ","),
		request.Priority,
		clock.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record submission of %v: %w", request.Identifier, err)
	}
	return nil
}

func (r *Recorder) RecordAssignment(ctx context.Context, reservationID, resourceID string) error {
	now := clock.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET assigned_resource = ?,
			assigned_at = ?,
			queue_seconds = (julianday(?) - julianday(submitted_at)) * 86400.0
		WHERE reservation_id = ?`,
		resourceID,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		reservationID)
	if err != nil {
		return fmt.Errorf("failed to record assignment of %v: %w", reservationID, err)
	}
	return nil
}

func (r *Recorder) RecordSessionStart(ctx context.Context, reservationID, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET started_at = ?, url = ? WHERE reservation_id = ?`,
		clock.Now().UTC().Format(time.RFC3339Nano),
		url,
		reservationID)
	if err != nil {
		return fmt.Errorf("failed to record session start of %v: %w", reservationID, err)
	}
	return nil
}

func (r *Recorder) RecordFinish(ctx context.Context, reservationID string, status model.Status) error {
	now := clock.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET finished_at = ?,
			final_status = ?,
			session_seconds = CASE WHEN started_at IS NULL THEN NULL
				ELSE (julianday(?) - julianday(started_at)) * 86400.0 END
		WHERE reservation_id = ?`,
		now.Format(time.RFC3339Nano),
		string(status),
		now.Format(time.RFC3339Nano),
		reservationID)
	if err != nil {
		return fmt.Errorf("failed to record finish of %v: %w", reservationID, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Recorder) Close() error { return r.db.Close() }

// ensure Recorder implements the contract
var _ usage.Recorder = (*Recorder)(nil)
