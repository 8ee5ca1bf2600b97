package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/incident"
)

// drainGrace is how long the engine lets pipelines finish their ring
// backlog after capture stops before cancelling them outright.
const drainGrace = 10 * time.Second

// EngineConfig assembles a runnable engine. Source and Security are
// required; everything else degrades gracefully when absent.
type EngineConfig struct {
	Source       vision.FrameSource
	RingCapacity int
	SourceRetry  time.Duration // pause between failed source reads

	// Ring and Dispatcher are normally built by NewEngine. Callers that
	// need the dispatcher before the engine exists (the incident
	// recorder subscribes to it) may build both and inject them;
	// RingCapacity is ignored then.
	Ring       *vision.FrameRing
	Dispatcher *vision.Dispatcher

	Security  *SecurityPipeline
	Analytics *AnalyticsPipeline
	Sinks     *SinkQueue
	Recorder  *incident.Recorder
	Bus       *vision.EventBus
	Notifier  vision.Notifier
}

// Engine owns the capture loop and the frame ring, runs both pipelines
// against the dispatcher, and sequences shutdown so queued work drains
// before the process exits.
type Engine struct {
	cfg  EngineConfig
	ring *vision.FrameRing
	disp *vision.Dispatcher

	startedAt  time.Time
	framesRead atomic.Uint64
	sourceErrs atomic.Uint64
	sourceOK   atomic.Bool
	failOnce   sync.Once
}

// EngineStatus aggregates component counters for the status endpoint.
type EngineStatus struct {
	UptimeSec     float64                 `json:"uptime_sec"`
	SourceHealthy bool                    `json:"source_healthy"`
	FramesRead    uint64                  `json:"frames_read"`
	SourceErrors  uint64                  `json:"source_errors"`
	Ring          vision.RingStats        `json:"ring"`
	Security      SecurityStats           `json:"security"`
	Analytics     *AnalyticsStats         `json:"analytics,omitempty"`
	Sinks         *SinkStats              `json:"sinks,omitempty"`
	Recorder      *incident.RecorderStats `json:"recorder,omitempty"`
}

// NewEngine validates the wiring and builds the ring and dispatcher.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("engine requires a frame source")
	}
	if cfg.Security == nil {
		return nil, errors.New("engine requires a security pipeline")
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 128
	}
	if cfg.SourceRetry <= 0 {
		cfg.SourceRetry = time.Second
	}
	ring := cfg.Ring
	if ring == nil {
		var err error
		ring, err = vision.NewFrameRing(cfg.RingCapacity)
		if err != nil {
			return nil, fmt.Errorf("building frame ring: %w", err)
		}
	}
	disp := cfg.Dispatcher
	if disp == nil {
		disp = vision.NewDispatcher(ring)
	}
	return &Engine{
		cfg:  cfg,
		ring: ring,
		disp: disp,
	}, nil
}

// Ring exposes the frame ring for monitor endpoints.
func (e *Engine) Ring() *vision.FrameRing { return e.ring }

// Dispatcher exposes the dispatcher, mainly for tests.
func (e *Engine) Dispatcher() *vision.Dispatcher { return e.disp }

// Run captures frames until ctx ends, the source ends, or the source
// fails hard, then shuts the pipelines down in order: capture stops,
// the dispatcher closes, pipelines drain their cursors, in-flight
// clips finish, and finally the sink queue drains. Transient read
// errors are retried; ErrSourceUnavailable emits one critical event
// and terminates capture, since restarting a dead device is the
// orchestrator's job, not ours. Run returns that error so the caller
// can tell a dead source from a requested shutdown.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now()
	if e.cfg.Sinks != nil {
		e.cfg.Sinks.Start()
	}

	// Pipelines outlive ctx so they can drain the ring after capture
	// stops; pipeCancel is the hard stop if draining takes too long.
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()

	// Subscriptions must exist before the first Publish, so take them
	// here rather than inside the goroutines; a fast source could
	// otherwise run the whole stream past an unscheduled pipeline.
	secSub := e.disp.Subscribe("security")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.cfg.Security.Run(pipeCtx, secSub)
	}()
	if e.cfg.Analytics != nil {
		anaSub := e.disp.Subscribe("analytics")
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.cfg.Analytics.Run(pipeCtx, anaSub)
		}()
	}

	vision.Opsf("engine running (ring capacity %d)", e.ring.Stats().Capacity)
	captureErr := e.capture(ctx)

	// Shutdown. Close the dispatcher so pipelines drain and return,
	// bounded by drainGrace.
	if err := e.cfg.Source.Close(); err != nil {
		vision.Diagf("closing source: %v", err)
	}
	e.disp.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
		vision.Opsf("pipelines still draining after %s, cancelling", drainGrace)
		pipeCancel()
		<-done
	}

	if e.cfg.Recorder != nil {
		e.cfg.Recorder.Close()
	}
	if e.cfg.Sinks != nil {
		e.cfg.Sinks.Close()
	}
	vision.Opsf("engine stopped after %d frames", e.framesRead.Load())
	return captureErr
}

// capture reads frames until ctx ends, the stream ends, or the source
// fails permanently. Transient read failures are counted, logged with
// throttling, and retried after SourceRetry.
func (e *Engine) capture(ctx context.Context) error {
	for {
		frame, err := e.cfg.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				vision.Opsf("source ended after %d frames", e.framesRead.Load())
				return nil
			}
			e.sourceOK.Store(false)
			n := e.sourceErrs.Add(1)
			if errors.Is(err, vision.ErrSourceUnavailable) {
				e.failOnce.Do(func() { e.emitSourceFailure(err) })
				return fmt.Errorf("capture halted: %w", err)
			}
			if n == 1 || n%30 == 0 {
				vision.Opsf("source read failed (%d): %v", n, err)
			} else {
				vision.Tracef("source read failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.cfg.SourceRetry):
			}
			continue
		}
		if frame == nil {
			continue
		}
		e.sourceOK.Store(true)
		e.framesRead.Add(1)
		e.disp.Publish(frame)
	}
}

// emitSourceFailure raises the once-per-process critical event for a
// source that reports itself unavailable. Capture halts right after;
// the event exists so operators hear about the outage exactly once.
func (e *Engine) emitSourceFailure(cause error) {
	ev := &vision.Event{
		ID:        uuid.NewString(),
		Type:      vision.EventSourceFailure,
		Severity:  vision.SeverityCritical,
		Timestamp: time.Now(),
		Detail:    fmt.Sprintf("frame source unavailable: %v", cause),
	}
	vision.Opsf("event %s", ev)
	if e.cfg.Sinks != nil {
		e.cfg.Sinks.EnqueueEvent(ev)
	}
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(ev)
	}
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.Notify(ev)
	}
}

// Status aggregates counters across the engine's components.
func (e *Engine) Status() EngineStatus {
	st := EngineStatus{
		SourceHealthy: e.sourceOK.Load(),
		FramesRead:    e.framesRead.Load(),
		SourceErrors:  e.sourceErrs.Load(),
		Ring:          e.ring.Stats(),
		Security:      e.cfg.Security.Stats(),
	}
	if !e.startedAt.IsZero() {
		st.UptimeSec = time.Since(e.startedAt).Seconds()
	}
	if e.cfg.Analytics != nil {
		s := e.cfg.Analytics.Stats()
		st.Analytics = &s
	}
	if e.cfg.Sinks != nil {
		s := e.cfg.Sinks.Stats()
		st.Sinks = &s
	}
	if e.cfg.Recorder != nil {
		s := e.cfg.Recorder.Stats()
		st.Recorder = &s
	}
	return st
}
