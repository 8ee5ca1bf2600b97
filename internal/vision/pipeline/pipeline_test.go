package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/rules"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

var pipeBase = time.Date(2025, 4, 7, 15, 0, 0, 0, time.UTC)

// memEventSink records persisted events in memory. Setting failWith
// makes every PersistEvent call fail.
type memEventSink struct {
	mu       sync.Mutex
	events   []*vision.Event
	failWith error
}

func (s *memEventSink) PersistEvent(_ context.Context, ev *vision.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memEventSink) all() []*vision.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*vision.Event, len(s.events))
	copy(out, s.events)
	return out
}

// memSampleSink records persisted analytics samples in memory.
type memSampleSink struct {
	mu      sync.Mutex
	samples []*vision.AnalyticsSample
}

func (s *memSampleSink) PersistSample(_ context.Context, sample *vision.AnalyticsSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *memSampleSink) all() []*vision.AnalyticsSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*vision.AnalyticsSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// memNotifier records notified events.
type memNotifier struct {
	mu     sync.Mutex
	events []*vision.Event
}

func (n *memNotifier) Notify(ev *vision.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *memNotifier) all() []*vision.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*vision.Event, len(n.events))
	copy(out, n.events)
	return out
}

// classDetector reports one detection of a fixed class on every frame,
// or only on the listed frame sequences when seqs is non-nil. Frames
// listed in failSeqs fail the Detect call instead.
type classDetector struct {
	class    string
	conf     float32
	seqs     map[uint64]bool
	failSeqs map[uint64]bool
}

func (d *classDetector) Detect(_ context.Context, f *vision.Frame) ([]vision.Detection, error) {
	if d.failSeqs[f.Seq] {
		return nil, errors.New("detector backend offline")
	}
	if d.seqs != nil && !d.seqs[f.Seq] {
		return nil, nil
	}
	return []vision.Detection{{
		BBox:       vision.BBox{X: 12, Y: 10, W: 14, H: 22},
		Class:      d.class,
		Confidence: d.conf,
	}}, nil
}

// sourceStep is one scripted read: a frame or an error.
type sourceStep struct {
	frame *vision.Frame
	err   error
}

// scriptSource replays a fixed read script. After the script is spent
// it returns io.EOF, or blocks until ctx ends when blockAtEnd is set.
type scriptSource struct {
	mu         sync.Mutex
	steps      []sourceStep
	pos        int
	blockAtEnd bool
	closed     atomic.Bool
}

func (s *scriptSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.pos < len(s.steps) {
		step := s.steps[s.pos]
		s.pos++
		s.mu.Unlock()
		return step.frame, step.err
	}
	s.mu.Unlock()
	if s.blockAtEnd {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (s *scriptSource) Close() error {
	s.closed.Store(true)
	return nil
}

func testFrame(ts time.Time) *vision.Frame {
	return &vision.Frame{
		Timestamp: ts,
		Width:     64,
		Height:    64,
		Format:    vision.FormatGray8,
		Data:      make([]byte, 64*64),
	}
}

func testTrackerConfig() track.TrackerConfig {
	return track.TrackerConfig{
		Mode:               track.AssociateCentroid,
		MaxMatchDistancePx: 50,
		TrackMissLimit:     3,
		MaxTracks:          64,
		MaxHistoryLength:   16,
		RetiredGracePeriod: time.Minute,
	}
}

func restrictedKnifeRule() []rules.RuleConfig {
	return []rules.RuleConfig{{
		Kind:              vision.EventRestrictedObject,
		Severity:          vision.SeverityCritical,
		Cooldown:          time.Minute,
		Enabled:           true,
		RestrictedClasses: []string{"knife"},
	}}
}
