package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/detect"
	"github.com/Gift01-source/Camera/internal/vision/incident"
	"github.com/Gift01-source/Camera/internal/vision/rules"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

// SecurityPipelineConfig holds the security path's dependencies. Stage,
// Tracker, and Rules are required; the rest are optional fan-out.
type SecurityPipelineConfig struct {
	Stage   *detect.Stage
	Tracker *track.Tracker
	Rules   *rules.Engine

	Sinks    *SinkQueue         // event persistence
	Bus      *vision.EventBus   // live subscribers (websocket, tests)
	Notifier vision.Notifier    // external alerting
	Recorder *incident.Recorder // clip extraction for qualifying events
}

// SecurityPipeline runs detection, tracking, and rule evaluation over
// every frame it is fed, and fans resulting events out to storage,
// live subscribers, notifiers, and the clip recorder.
type SecurityPipeline struct {
	cfg SecurityPipelineConfig

	frames  atomic.Uint64
	events  atomic.Uint64
	clips   atomic.Uint64
	lastSeq atomic.Uint64
}

// SecurityStats is a point-in-time snapshot of pipeline counters.
type SecurityStats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	EventsEmitted   uint64 `json:"events_emitted"`
	ClipsStarted    uint64 `json:"clips_started"`
	LastFrameSeq    uint64 `json:"last_frame_seq"`
}

// NewSecurityPipeline wires the security path together.
func NewSecurityPipeline(cfg SecurityPipelineConfig) *SecurityPipeline {
	return &SecurityPipeline{cfg: cfg}
}

// Process runs one frame through detect → track → rules → fan-out.
// Analysis failures degrade the frame rather than erroring; the only
// error Process returns is the caller's context ending.
func (p *SecurityPipeline) Process(ctx context.Context, frame *vision.Frame) error {
	analysis, err := p.cfg.Stage.Process(ctx, frame)
	if err != nil {
		return err
	}

	up := p.cfg.Tracker.Update(analysis.Detections, frame.Timestamp)
	touched := make([]*track.Track, 0, len(up.Matched)+len(up.Created))
	touched = append(touched, up.Matched...)
	touched = append(touched, up.Created...)

	for _, ev := range p.cfg.Rules.Evaluate(analysis, touched) {
		p.emit(ctx, ev)
	}

	p.frames.Add(1)
	p.lastSeq.Store(frame.Seq)
	return nil
}

// emit fans one event out. The clip is started first so the persisted
// event already carries its clip reference.
func (p *SecurityPipeline) emit(ctx context.Context, ev *vision.Event) {
	if rec := p.cfg.Recorder; rec != nil && rec.Wants(ev) {
		if clip := rec.Start(ctx, ev); clip != nil {
			ev = ev.WithClip(clip.ID)
			p.clips.Add(1)
		}
	}

	p.events.Add(1)
	vision.Diagf("event %s", ev)

	if p.cfg.Sinks != nil {
		p.cfg.Sinks.EnqueueEvent(ev)
	}
	if p.cfg.Bus != nil {
		p.cfg.Bus.Publish(ev)
	}
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.Notify(ev)
	}
}

// Run consumes the subscription until the dispatcher closes or ctx
// ends. Frames lost to ring lapping are skipped by the cursor and
// surface in ring stats rather than here.
func (p *SecurityPipeline) Run(ctx context.Context, sub *vision.Subscription) {
	for {
		frame, err := sub.NextWait(ctx)
		if err != nil {
			if errors.Is(err, vision.ErrDispatcherClosed) {
				vision.Diagf("security pipeline drained after %d frames", p.frames.Load())
			}
			return
		}
		if err := p.Process(ctx, frame); err != nil {
			return
		}
	}
}

// Stats returns current pipeline counters.
func (p *SecurityPipeline) Stats() SecurityStats {
	return SecurityStats{
		FramesProcessed: p.frames.Load(),
		EventsEmitted:   p.events.Load(),
		ClipsStarted:    p.clips.Load(),
		LastFrameSeq:    p.lastSeq.Load(),
	}
}
