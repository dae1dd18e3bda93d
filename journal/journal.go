// Package journal records delivery events in SQLite so that progress,
// recoveries and failures can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docfeed/dbopen"
	"github.com/hazyhaar/docfeed/feeder"
)

// Schema is the DDL of the delivery_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS delivery_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at  INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    state       TEXT NOT NULL,
    session_id  TEXT NOT NULL DEFAULT '',
    document    TEXT NOT NULL DEFAULT '',
    part        INTEGER NOT NULL DEFAULT 0,
    total       INTEGER NOT NULL DEFAULT 0,
    detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_delivery_events_session ON delivery_events(session_id);
`

// Journal writes and lists delivery events.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger used to report write failures.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// New creates the table if needed.
func New(db *sql.DB, opts ...Option) (*Journal, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	j := &Journal{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Record stores ev. Failures are logged, never returned, so a broken
// journal cannot stall a delivery.
func (j *Journal) Record(ctx context.Context, ev feeder.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO delivery_events (created_at, kind, state, session_id, document, part, total, detail)
		VALUES (?,?,?,?,?,?,?,?)`,
		ev.Time.UnixMilli(), string(ev.Kind), ev.State.String(), ev.SessionID, ev.Document, ev.Part, ev.Total, ev.Detail)
	if err != nil {
		j.logger.Error("journal: record failed", "error", err, "kind", ev.Kind, "session", ev.SessionID)
	}
}

// Observer adapts Record to feeder.Config.Observer.
func (j *Journal) Observer(ctx context.Context) func(feeder.Event) {
	return func(ev feeder.Event) { j.Record(ctx, ev) }
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]feeder.Event, error) {
	return j.query(ctx, `
		SELECT created_at, kind, state, session_id, document, part, total, detail
		FROM delivery_events ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// Session returns the events of one session in the order they happened.
func (j *Journal) Session(ctx context.Context, sessionID string) ([]feeder.Event, error) {
	return j.query(ctx, `
		SELECT created_at, kind, state, session_id, document, part, total, detail
		FROM delivery_events WHERE session_id = ? ORDER BY id`, sessionID)
}

// Cleanup deletes events older than maxAge and returns how many went.
func (j *Journal) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := dbopen.Exec(ctx, j.db, `DELETE FROM delivery_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]feeder.Event, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []feeder.Event
	for rows.Next() {
		var (
			ev    feeder.Event
			ms    int64
			kind  string
			state string
		)
		if err := rows.Scan(&ms, &kind, &state, &ev.SessionID, &ev.Document, &ev.Part, &ev.Total, &ev.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Time = time.UnixMilli(ms)
		ev.Kind = feeder.EventKind(kind)
		ev.State, _ = feeder.ParseState(state)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 1000:
		return 1000
	}
	return n
}
