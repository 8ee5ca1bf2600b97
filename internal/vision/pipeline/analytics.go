package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/analytics"
	"github.com/Gift01-source/Camera/internal/vision/detect"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

// AnalyticsPipelineConfig holds the analytics path's dependencies.
// The pipeline owns separate Stage and Tracker instances from the
// security path so its sampling cadence cannot disturb security
// tracking state.
type AnalyticsPipelineConfig struct {
	Stage      *detect.Stage
	Tracker    *track.Tracker
	Aggregator *analytics.Aggregator
	Sinks      *SinkQueue // sample persistence

	// Stride processes every Nth frame by sequence number; 0 and 1
	// both mean every frame.
	Stride int
}

// AnalyticsPipeline samples the frame stream into windowed crowd
// statistics: distinct people, queue depth, dwell percentiles, and the
// decayed activity heatmap.
type AnalyticsPipeline struct {
	cfg AnalyticsPipelineConfig

	mu            sync.Mutex
	lastFrameTime time.Time
	pendingFrames int // observed since the last flush

	frames  atomic.Uint64
	strided atomic.Uint64
	flushes atomic.Uint64
}

// AnalyticsStats is a point-in-time snapshot of pipeline counters.
type AnalyticsStats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	FramesStrided   uint64 `json:"frames_strided"`
	WindowsFlushed  uint64 `json:"windows_flushed"`
}

// NewAnalyticsPipeline wires the analytics path together.
func NewAnalyticsPipeline(cfg AnalyticsPipelineConfig) *AnalyticsPipeline {
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	return &AnalyticsPipeline{cfg: cfg}
}

// Process folds one frame into the open window, flushing when the
// window is due. Strided-out frames are counted and skipped before any
// analysis work.
func (p *AnalyticsPipeline) Process(ctx context.Context, frame *vision.Frame) error {
	if p.cfg.Stride > 1 && frame.Seq%uint64(p.cfg.Stride) != 0 {
		p.strided.Add(1)
		return nil
	}

	analysis, err := p.cfg.Stage.Process(ctx, frame)
	if err != nil {
		return err
	}

	up := p.cfg.Tracker.Update(analysis.Detections, frame.Timestamp)
	p.cfg.Aggregator.Observe(analysis, up)

	p.mu.Lock()
	p.lastFrameTime = frame.Timestamp
	p.pendingFrames++
	p.mu.Unlock()
	p.frames.Add(1)

	if p.cfg.Aggregator.Due(frame.Timestamp) {
		p.flush(frame.Timestamp)
	}
	return nil
}

// flush closes the current window and queues its sample.
func (p *AnalyticsPipeline) flush(now time.Time) {
	sample := p.cfg.Aggregator.Flush(now, p.cfg.Tracker.LiveTracks())

	p.mu.Lock()
	p.pendingFrames = 0
	p.mu.Unlock()
	p.flushes.Add(1)

	vision.Diagf("analytics window %s..%s: people=%d queue=%d frames=%d",
		sample.WindowStart.Format(time.RFC3339), sample.WindowEnd.Format(time.RFC3339),
		sample.PeopleCount, sample.QueueDepth, sample.FramesAnalyzed)

	if p.cfg.Sinks != nil {
		p.cfg.Sinks.EnqueueSample(sample)
	}
}

// FlushOpenWindow closes a partially filled window, typically at
// shutdown so the tail of the session is not lost. A window with no
// observed frames is left alone.
func (p *AnalyticsPipeline) FlushOpenWindow() {
	p.mu.Lock()
	pending := p.pendingFrames
	last := p.lastFrameTime
	p.mu.Unlock()

	if pending == 0 {
		return
	}
	p.flush(last)
}

// Run consumes the subscription until the dispatcher closes or ctx
// ends, then flushes the open window.
func (p *AnalyticsPipeline) Run(ctx context.Context, sub *vision.Subscription) {
	defer p.FlushOpenWindow()
	for {
		frame, err := sub.NextWait(ctx)
		if err != nil {
			if errors.Is(err, vision.ErrDispatcherClosed) {
				vision.Diagf("analytics pipeline drained after %d frames", p.frames.Load())
			}
			return
		}
		if err := p.Process(ctx, frame); err != nil {
			return
		}
	}
}

// Stats returns current pipeline counters.
func (p *AnalyticsPipeline) Stats() AnalyticsStats {
	return AnalyticsStats{
		FramesProcessed: p.frames.Load(),
		FramesStrided:   p.strided.Load(),
		WindowsFlushed:  p.flushes.Load(),
	}
}
