package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gift01-source/Camera/internal/monitoring"
	"github.com/Gift01-source/Camera/internal/timeutil"
)

// RetentionWorker periodically prunes aged events, analytics windows,
// and incident clips. Clip rows are removed only after their frame
// directory has been deleted, so a failed removal is retried on the
// next sweep.
type RetentionWorker struct {
	DB        *DB
	Interval  time.Duration // how often to sweep (e.g., 1h)
	EventTTL  time.Duration // 0 disables event pruning
	SampleTTL time.Duration // 0 disables analytics pruning
	ClipTTL   time.Duration // 0 disables clip pruning

	// RemoveClip deletes the on-disk frame directory for a clip ID.
	// Nil means rows are dropped without touching the filesystem.
	RemoveClip func(id string) error

	// Clock drives the sweep schedule and the TTL cutoffs; tests
	// substitute a manual clock to cross day boundaries instantly.
	Clock timeutil.Clock

	StopChan chan struct{}
	stopOnce sync.Once
}

// NewRetentionWorker returns a worker with the default hourly sweep.
func NewRetentionWorker(db *DB, eventTTL, sampleTTL, clipTTL time.Duration) *RetentionWorker {
	return &RetentionWorker{
		DB:        db,
		Interval:  time.Hour,
		EventTTL:  eventTTL,
		SampleTTL: sampleTTL,
		ClipTTL:   clipTTL,
		Clock:     timeutil.RealClock{},
		StopChan:  make(chan struct{}),
	}
}

// Start runs the periodic sweep loop in a goroutine.
func (w *RetentionWorker) Start() {
	go func() {
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("retention sweep error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop. Safe to call more than once.
func (w *RetentionWorker) Stop() {
	w.stopOnce.Do(func() { close(w.StopChan) })
}

// RunOnce performs a single sweep against the worker's clock.
func (w *RetentionWorker) RunOnce(ctx context.Context) error {
	now := w.Clock.Now()

	if w.EventTTL > 0 {
		n, err := w.DB.PruneEvents(ctx, now.Add(-w.EventTTL))
		if err != nil {
			return fmt.Errorf("pruning events: %w", err)
		}
		if n > 0 {
			monitoring.Logf("retention: pruned %d events", n)
		}
	}

	if w.SampleTTL > 0 {
		n, err := w.DB.PruneSamples(ctx, now.Add(-w.SampleTTL))
		if err != nil {
			return fmt.Errorf("pruning analytics samples: %w", err)
		}
		if n > 0 {
			monitoring.Logf("retention: pruned %d analytics windows", n)
		}
	}

	if w.ClipTTL > 0 {
		if err := w.pruneClips(ctx, now.Add(-w.ClipTTL)); err != nil {
			return fmt.Errorf("pruning clips: %w", err)
		}
	}

	return nil
}

func (w *RetentionWorker) pruneClips(ctx context.Context, cutoff time.Time) error {
	clips, err := w.DB.ClipsBefore(ctx, cutoff, 0)
	if err != nil {
		return err
	}

	var removed int
	for _, c := range clips {
		if w.RemoveClip != nil {
			if err := w.RemoveClip(c.ID); err != nil {
				// Keep the row so the next sweep retries the removal.
				monitoring.Logf("retention: removing clip %s frames: %v", c.ID, err)
				continue
			}
		}
		if err := w.DB.DeleteClipRow(ctx, c.ID); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		monitoring.Logf("retention: pruned %d clips", removed)
	}
	return nil
}
