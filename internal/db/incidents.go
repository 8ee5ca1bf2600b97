package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

const defaultClipLimit = 50

const clipColumns = "id, event_id, start_seq, end_seq, start_ns, end_ns, frame_count, partial, dir"

// RecordClip stores the metadata of a finished incident clip. The
// frame files themselves stay under clip.Dir on disk.
func (db *DB) RecordClip(ctx context.Context, c *vision.Clip) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("clip missing ID")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO incidents (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EventID, c.StartSeq, c.EndSeq, nsOf(c.Start), nsOf(c.End),
		c.FrameCount, boolInt(c.Partial), c.Dir,
	)
	if err != nil {
		return fmt.Errorf("inserting clip %s: %w", c.ID, err)
	}
	return nil
}

// Clips lists stored clips newest first.
func (db *DB) Clips(ctx context.Context, limit int) ([]vision.Clip, error) {
	if limit <= 0 {
		limit = defaultClipLimit
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+clipColumns+" FROM incidents ORDER BY start_ns DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying clips: %w", err)
	}
	defer rows.Close()

	var clips []vision.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return clips, nil
}

// ClipByID fetches one clip, returning ErrNotFound when absent.
func (db *DB) ClipByID(ctx context.Context, id string) (*vision.Clip, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+clipColumns+" FROM incidents WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying clip %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanClip(rows)
}

// ClipsBefore lists clips that started before the cutoff, oldest
// first, for retention sweeps.
func (db *DB) ClipsBefore(ctx context.Context, cutoff time.Time, limit int) ([]vision.Clip, error) {
	if limit <= 0 {
		limit = defaultClipLimit
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+clipColumns+" FROM incidents WHERE start_ns < ? ORDER BY start_ns ASC LIMIT ?",
		nsOf(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired clips: %w", err)
	}
	defer rows.Close()

	var clips []vision.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return clips, nil
}

// DeleteClipRow removes the metadata row for a clip. Callers are
// responsible for removing the frame directory.
func (db *DB) DeleteClipRow(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM incidents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting clip %s: %w", id, err)
	}
	return nil
}

func scanClip(rows *sql.Rows) (*vision.Clip, error) {
	var (
		c       vision.Clip
		startNS int64
		endNS   int64
		partial int
	)
	if err := rows.Scan(&c.ID, &c.EventID, &c.StartSeq, &c.EndSeq,
		&startNS, &endNS, &c.FrameCount, &partial, &c.Dir); err != nil {
		return nil, fmt.Errorf("scanning clip row: %w", err)
	}
	c.Start = timeOf(startNS)
	c.End = timeOf(endNS)
	c.Partial = partial != 0
	return &c, nil
}
