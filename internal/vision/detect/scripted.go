package detect

import (
	"context"
	"sync"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// ScriptedDetector replays a fixed detection schedule keyed by frame
// sequence number. Frames without an entry return no detections. It
// backs the synthetic demo pipeline and tests; a per-call delay makes
// budget-exhaustion behaviour reproducible.
type ScriptedDetector struct {
	mu     sync.Mutex
	bySeq  map[uint64][]vision.Detection
	errors map[uint64]error
	delay  time.Duration
	calls  int
}

// NewScriptedDetector returns an empty schedule.
func NewScriptedDetector() *ScriptedDetector {
	return &ScriptedDetector{
		bySeq:  make(map[uint64][]vision.Detection),
		errors: make(map[uint64]error),
	}
}

// Script sets the detections returned for one frame sequence.
func (s *ScriptedDetector) Script(seq uint64, dets ...vision.Detection) *ScriptedDetector {
	s.mu.Lock()
	s.bySeq[seq] = dets
	s.mu.Unlock()
	return s
}

// FailAt makes the detector return err for one frame sequence.
func (s *ScriptedDetector) FailAt(seq uint64, err error) *ScriptedDetector {
	s.mu.Lock()
	s.errors[seq] = err
	s.mu.Unlock()
	return s
}

// SetDelay adds a fixed latency to every Detect call.
func (s *ScriptedDetector) SetDelay(d time.Duration) *ScriptedDetector {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
	return s
}

// Calls returns how many times Detect has run.
func (s *ScriptedDetector) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Detect implements vision.ObjectDetector.
func (s *ScriptedDetector) Detect(ctx context.Context, frame *vision.Frame) ([]vision.Detection, error) {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	err := s.errors[frame.Seq]
	dets := s.bySeq[frame.Seq]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]vision.Detection, len(dets))
	copy(out, dets)
	return out, nil
}
