// Package pipeline wires the frame stream into the two analysis paths:
// the security pipeline that inspects every frame for rule violations,
// and the analytics pipeline that samples frames into windowed
// statistics. The Engine owns the capture loop, the dispatcher, and
// shutdown ordering.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// drainTimeout bounds how long Close keeps persisting queued items
// after shutdown begins.
const drainTimeout = 5 * time.Second

// SinkQueue decouples the pipeline hot paths from storage latency.
// Enqueue never blocks: when a queue is full the oldest entry is
// dropped and counted, so a slow or wedged database costs history but
// never stalls frame processing.
type SinkQueue struct {
	events  chan *vision.Event
	samples chan *vision.AnalyticsSample

	eventSink  vision.EventSink
	sampleSink vision.AnalyticsSink

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool

	enqueuedEvents  atomic.Uint64
	enqueuedSamples atomic.Uint64
	droppedEvents   atomic.Uint64
	droppedSamples  atomic.Uint64
	persistErrors   atomic.Uint64
}

// SinkStats is a point-in-time snapshot of queue counters.
type SinkStats struct {
	EnqueuedEvents  uint64 `json:"enqueued_events"`
	EnqueuedSamples uint64 `json:"enqueued_samples"`
	DroppedEvents   uint64 `json:"dropped_events"`
	DroppedSamples  uint64 `json:"dropped_samples"`
	PersistErrors   uint64 `json:"persist_errors"`
	PendingEvents   int    `json:"pending_events"`
	PendingSamples  int    `json:"pending_samples"`
}

// NewSinkQueue builds a queue holding up to depth entries per sink.
// Either sink may be nil, in which case its entries are discarded
// without counting as drops.
func NewSinkQueue(depth int, events vision.EventSink, samples vision.AnalyticsSink) *SinkQueue {
	if depth <= 0 {
		depth = 64
	}
	return &SinkQueue{
		events:     make(chan *vision.Event, depth),
		samples:    make(chan *vision.AnalyticsSample, depth),
		eventSink:  events,
		sampleSink: samples,
		quit:       make(chan struct{}),
	}
}

// Start launches the single persistence worker. Redundant calls are
// no-ops.
func (q *SinkQueue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	q.wg.Add(1)
	go q.run()
}

// EnqueueEvent queues an event for persistence, dropping the oldest
// queued event when full.
func (q *SinkQueue) EnqueueEvent(ev *vision.Event) {
	if q.eventSink == nil || ev == nil {
		return
	}
	q.enqueuedEvents.Add(1)
	for {
		select {
		case q.events <- ev:
			return
		default:
		}
		select {
		case old := <-q.events:
			q.droppedEvents.Add(1)
			vision.Opsf("sink queue full, dropped event %s (%s)", old.ID, old.Type)
		default:
		}
	}
}

// EnqueueSample queues an analytics sample for persistence, dropping
// the oldest queued sample when full.
func (q *SinkQueue) EnqueueSample(s *vision.AnalyticsSample) {
	if q.sampleSink == nil || s == nil {
		return
	}
	q.enqueuedSamples.Add(1)
	for {
		select {
		case q.samples <- s:
			return
		default:
		}
		select {
		case old := <-q.samples:
			q.droppedSamples.Add(1)
			vision.Opsf("sink queue full, dropped analytics sample %s", old.WindowStart.Format(time.RFC3339))
		default:
		}
	}
}

func (q *SinkQueue) run() {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-q.events:
			q.persistEvent(ctx, ev)
		case s := <-q.samples:
			q.persistSample(ctx, s)
		case <-q.quit:
			q.drain()
			return
		}
	}
}

// drain persists whatever is still queued, bounded by drainTimeout so
// a dead database cannot hold up shutdown.
func (q *SinkQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-q.events:
			q.persistEvent(ctx, ev)
		case s := <-q.samples:
			q.persistSample(ctx, s)
		default:
			return
		}
		if ctx.Err() != nil {
			left := len(q.events) + len(q.samples)
			if left > 0 {
				vision.Opsf("sink queue drain timed out with %d entries unpersisted", left)
			}
			return
		}
	}
}

func (q *SinkQueue) persistEvent(ctx context.Context, ev *vision.Event) {
	if err := q.eventSink.PersistEvent(ctx, ev); err != nil {
		q.persistErrors.Add(1)
		vision.Opsf("persisting event %s: %v", ev.ID, err)
	}
}

func (q *SinkQueue) persistSample(ctx context.Context, s *vision.AnalyticsSample) {
	if err := q.sampleSink.PersistSample(ctx, s); err != nil {
		q.persistErrors.Add(1)
		vision.Opsf("persisting analytics sample: %v", err)
	}
}

// Stats returns current queue counters.
func (q *SinkQueue) Stats() SinkStats {
	return SinkStats{
		EnqueuedEvents:  q.enqueuedEvents.Load(),
		EnqueuedSamples: q.enqueuedSamples.Load(),
		DroppedEvents:   q.droppedEvents.Load(),
		DroppedSamples:  q.droppedSamples.Load(),
		PersistErrors:   q.persistErrors.Load(),
		PendingEvents:   len(q.events),
		PendingSamples:  len(q.samples),
	}
}

// Close stops the worker after a bounded drain of queued entries.
// Subsequent Enqueue calls do not panic but are no longer persisted.
func (q *SinkQueue) Close() {
	if !q.started.Load() {
		return
	}
	q.quitOnce.Do(func() { close(q.quit) })
	q.wg.Wait()
}
