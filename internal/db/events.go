package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// ErrNotFound is returned by the by-ID lookups when no row matches.
var ErrNotFound = errors.New("db: not found")

const defaultEventLimit = 100

const eventColumns = "id, type, severity, ts_ns, track_id, frame_seq, detail, payload, degraded, clip_id"

// PersistEvent implements vision.EventSink. Events are immutable once
// written; a duplicate ID is an error.
func (db *DB) PersistEvent(ctx context.Context, ev *vision.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("event missing ID")
	}

	var payload sql.NullString
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for event %s: %w", ev.ID, err)
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), string(ev.Severity), nsOf(ev.Timestamp),
		ev.TrackID, ev.FrameSeq, ev.Detail, payload, boolInt(ev.Degraded), ev.ClipID,
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", ev.ID, err)
	}
	return nil
}

// EventFilter narrows an event listing. Zero-valued fields are
// ignored; Limit defaults to 100.
type EventFilter struct {
	Since       time.Time
	Until       time.Time
	Types       []vision.EventType
	MinSeverity vision.Severity
	Limit       int
}

// Events lists stored events newest first.
func (db *DB) Events(ctx context.Context, f EventFilter) ([]vision.Event, error) {
	var where []string
	var args []any

	if !f.Since.IsZero() {
		where = append(where, "ts_ns >= ?")
		args = append(args, nsOf(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts_ns < ?")
		args = append(args, nsOf(f.Until))
	}
	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(ph, ", ")+")")
	}
	if f.MinSeverity != "" {
		sevs := severitiesAtLeast(f.MinSeverity)
		ph := make([]string, len(sevs))
		for i, s := range sevs {
			ph[i] = "?"
			args = append(args, s)
		}
		where = append(where, "severity IN ("+strings.Join(ph, ", ")+")")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}

	q := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []vision.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// EventByID fetches a single event, returning ErrNotFound when absent.
func (db *DB) EventByID(ctx context.Context, id string) (*vision.Event, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying event %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanEvent(rows)
}

// CountEventsSince reports how many events have a timestamp at or
// after the cutoff.
func (db *DB) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE ts_ns >= ?", nsOf(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// PruneEvents deletes events older than the cutoff and returns the
// number removed.
func (db *DB) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM events WHERE ts_ns < ?", nsOf(olderThan))
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvent(rows *sql.Rows) (*vision.Event, error) {
	var (
		ev       vision.Event
		typ      string
		sev      string
		tsNS     int64
		payload  sql.NullString
		degraded int
	)
	if err := rows.Scan(&ev.ID, &typ, &sev, &tsNS, &ev.TrackID, &ev.FrameSeq,
		&ev.Detail, &payload, &degraded, &ev.ClipID); err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}
	ev.Type = vision.EventType(typ)
	ev.Severity = vision.Severity(sev)
	ev.Timestamp = timeOf(tsNS)
	ev.Degraded = degraded != 0
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload for event %s: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// severitiesAtLeast expands a minimum severity into the set of
// severity labels that satisfy it, for use in an IN clause.
func severitiesAtLeast(min vision.Severity) []string {
	all := []vision.Severity{
		vision.SeverityInfo,
		vision.SeverityMedium,
		vision.SeverityHigh,
		vision.SeverityCritical,
	}
	var out []string
	for _, s := range all {
		if vision.SeverityAtLeast(s, min) {
			out = append(out, string(s))
		}
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
