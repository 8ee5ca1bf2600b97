package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

const defaultSampleLimit = 288 // one day of 5-minute windows

const sampleColumns = "window_start_ns, window_end_ns, people_count, queue_depth, avg_dwell_sec, p50_dwell_sec, p95_dwell_sec, frames_analyzed, degraded_frames, heatmap"

// PersistSample implements vision.AnalyticsSink.
func (db *DB) PersistSample(ctx context.Context, s *vision.AnalyticsSample) error {
	if s == nil {
		return fmt.Errorf("nil analytics sample")
	}

	var heatmap sql.NullString
	if s.Heatmap != nil {
		raw, err := json.Marshal(s.Heatmap)
		if err != nil {
			return fmt.Errorf("encoding heatmap: %w", err)
		}
		heatmap = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO analytics_samples (`+sampleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nsOf(s.WindowStart), nsOf(s.WindowEnd), s.PeopleCount, s.QueueDepth,
		s.AvgDwellSec, s.P50DwellSec, s.P95DwellSec,
		s.FramesAnalyzed, s.DegradedFrames, heatmap,
	)
	if err != nil {
		return fmt.Errorf("inserting analytics sample: %w", err)
	}
	return nil
}

// SampleFilter narrows a sample listing. Zero-valued fields are
// ignored; Limit defaults to a day of 5-minute windows.
type SampleFilter struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Samples lists stored analytics windows newest first.
func (db *DB) Samples(ctx context.Context, f SampleFilter) ([]vision.AnalyticsSample, error) {
	q := "SELECT " + sampleColumns + " FROM analytics_samples"
	var where []string
	var args []any
	if !f.Since.IsZero() {
		where = append(where, "window_end_ns >= ?")
		args = append(args, nsOf(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "window_end_ns < ?")
		args = append(args, nsOf(f.Until))
	}
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultSampleLimit
	}
	q += " ORDER BY window_end_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analytics samples: %w", err)
	}
	defer rows.Close()

	var samples []vision.AnalyticsSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// LatestSample returns the most recently closed window, or ErrNotFound
// when nothing has been flushed yet.
func (db *DB) LatestSample(ctx context.Context) (*vision.AnalyticsSample, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+sampleColumns+" FROM analytics_samples ORDER BY window_end_ns DESC LIMIT 1")
	if err != nil {
		return nil, fmt.Errorf("querying latest sample: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanSample(rows)
}

// AnalyticsSummary aggregates the stored windows since a cutoff.
type AnalyticsSummary struct {
	Windows        int     `json:"windows"`
	PeakPeople     int     `json:"peak_people"`
	PeakQueueDepth int     `json:"peak_queue_depth"`
	AvgDwellSec    float64 `json:"avg_dwell_sec"`
	MaxP95DwellSec float64 `json:"max_p95_dwell_sec"`
	FramesAnalyzed int64   `json:"frames_analyzed"`
	DegradedFrames int64   `json:"degraded_frames"`
}

// SummarizeSince rolls the windows ending at or after the cutoff into
// a single summary row.
func (db *DB) SummarizeSince(ctx context.Context, since time.Time) (*AnalyticsSummary, error) {
	var s AnalyticsSummary
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(MAX(people_count), 0),
			COALESCE(MAX(queue_depth), 0),
			COALESCE(AVG(avg_dwell_sec), 0),
			COALESCE(MAX(p95_dwell_sec), 0),
			COALESCE(SUM(frames_analyzed), 0),
			COALESCE(SUM(degraded_frames), 0)
		FROM analytics_samples
		WHERE window_end_ns >= ?`, nsOf(since)).
		Scan(&s.Windows, &s.PeakPeople, &s.PeakQueueDepth, &s.AvgDwellSec,
			&s.MaxP95DwellSec, &s.FramesAnalyzed, &s.DegradedFrames)
	if err != nil {
		return nil, fmt.Errorf("summarizing analytics: %w", err)
	}
	return &s, nil
}

// PruneSamples deletes windows that ended before the cutoff and
// returns the number removed.
func (db *DB) PruneSamples(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM analytics_samples WHERE window_end_ns < ?", nsOf(olderThan))
	if err != nil {
		return 0, fmt.Errorf("pruning analytics samples: %w", err)
	}
	return res.RowsAffected()
}

func scanSample(rows *sql.Rows) (*vision.AnalyticsSample, error) {
	var (
		s       vision.AnalyticsSample
		startNS int64
		endNS   int64
		heatmap sql.NullString
	)
	if err := rows.Scan(&startNS, &endNS, &s.PeopleCount, &s.QueueDepth,
		&s.AvgDwellSec, &s.P50DwellSec, &s.P95DwellSec,
		&s.FramesAnalyzed, &s.DegradedFrames, &heatmap); err != nil {
		return nil, fmt.Errorf("scanning analytics row: %w", err)
	}
	s.WindowStart = timeOf(startNS)
	s.WindowEnd = timeOf(endNS)
	if heatmap.Valid {
		var h vision.HeatmapSnapshot
		if err := json.Unmarshal([]byte(heatmap.String), &h); err != nil {
			return nil, fmt.Errorf("decoding heatmap: %w", err)
		}
		s.Heatmap = &h
	}
	return &s, nil
}
