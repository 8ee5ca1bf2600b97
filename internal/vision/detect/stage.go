// Package detect runs per-frame analysis: object detection, face
// matching against the enrolled-identity store, and motion estimation
// between consecutive frames. A stage failure never takes the pipeline
// down; the frame comes back with empty results and the degraded flag
// set, and the stage is ready for the next frame.
package detect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gift01-source/Camera/internal/config"
	"github.com/Gift01-source/Camera/internal/vision"
)

// StageConfig holds per-frame analysis parameters.
type StageConfig struct {
	ConfidenceThreshold float32       // detections below this are discarded
	FaceMatchThreshold  float32       // embedding distance at or below this is a known face
	DetectTimeout       time.Duration // analysis budget per frame; 0 disables
}

// DefaultStageConfig returns stage configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found — intended for tests and binaries
// that have already validated config availability.
func DefaultStageConfig() StageConfig {
	cfg := config.MustLoadDefaultConfig()
	return StageConfigFromTuning(cfg)
}

// StageConfigFromTuning builds a StageConfig from a loaded
// TuningConfig. Use this in production code where the TuningConfig is
// already loaded.
func StageConfigFromTuning(cfg *config.TuningConfig) StageConfig {
	return StageConfig{
		ConfidenceThreshold: float32(cfg.GetConfidenceThreshold()),
		FaceMatchThreshold:  float32(cfg.GetFaceMatchThreshold()),
		DetectTimeout:       cfg.GetDetectTimeout(),
	}
}

// Stage composes the analysis capabilities for one pipeline. Face and
// motion capabilities are optional; an absent capability simply
// contributes nothing to the result.
type Stage struct {
	cfg     StageConfig
	objects vision.ObjectDetector
	faces   vision.FaceDetector
	encoder vision.FaceEncoder
	known   vision.KnownFaceStore
	motion  vision.MotionEstimator

	mu   sync.Mutex
	prev *vision.Frame

	frames        atomic.Uint64
	failures      atomic.Uint64
	degraded      atomic.Uint64
	facesMatched  atomic.Uint64
	facesUnknown  atomic.Uint64
	timeoutBudget atomic.Uint64
}

// NewStage builds a stage around an object detector. Optional
// capabilities are attached with the With* methods before first use.
func NewStage(cfg StageConfig, objects vision.ObjectDetector) *Stage {
	return &Stage{cfg: cfg, objects: objects}
}

// WithFaces attaches face detection. Matching requires all three
// pieces; leaving store nil marks every face unknown.
func (s *Stage) WithFaces(detector vision.FaceDetector, encoder vision.FaceEncoder, store vision.KnownFaceStore) *Stage {
	s.faces = detector
	s.encoder = encoder
	s.known = store
	return s
}

// WithMotion attaches inter-frame motion estimation.
func (s *Stage) WithMotion(est vision.MotionEstimator) *Stage {
	s.motion = est
	return s
}

// Reset drops the previous-frame reference so the next Process call
// starts a fresh motion baseline. Call when the frame source changes.
func (s *Stage) Reset() {
	s.mu.Lock()
	s.prev = nil
	s.mu.Unlock()
}

// Process analyzes one frame within the configured time budget. The
// returned analysis is always non-nil on a nil error: capability
// failures and budget exhaustion degrade the result instead of failing
// the call. The only error return is the caller's own context ending.
func (s *Stage) Process(ctx context.Context, frame *vision.Frame) (*vision.FrameAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.frames.Add(1)

	budget := ctx
	cancel := context.CancelFunc(func() {})
	if s.cfg.DetectTimeout > 0 {
		budget, cancel = context.WithTimeout(ctx, s.cfg.DetectTimeout)
	}
	defer cancel()

	analysis := &vision.FrameAnalysis{
		FrameSeq:  frame.Seq,
		Timestamp: frame.Timestamp,
	}

	s.detectObjects(budget, frame, analysis)
	s.matchFaces(budget, frame, analysis)
	s.estimateMotion(frame, analysis)

	if analysis.Degraded {
		s.degraded.Add(1)
	}
	// Budget exhaustion is a per-frame failure, not a pipeline error.
	// Only the parent context ending is surfaced to the caller.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return analysis, nil
}

func (s *Stage) detectObjects(ctx context.Context, frame *vision.Frame, analysis *vision.FrameAnalysis) {
	dets, err := s.objects.Detect(ctx, frame)
	if err != nil {
		s.failures.Add(1)
		if ctx.Err() != nil {
			s.timeoutBudget.Add(1)
		}
		vision.Diagf("detect: frame %d object detection failed: %v", frame.Seq, err)
		analysis.Degraded = true
		return
	}
	kept := dets[:0]
	for _, d := range dets {
		if d.Confidence < s.cfg.ConfidenceThreshold || d.BBox.Area() <= 0 {
			continue
		}
		d.FrameSeq = frame.Seq
		kept = append(kept, d)
	}
	analysis.Detections = kept
}

func (s *Stage) matchFaces(ctx context.Context, frame *vision.Frame, analysis *vision.FrameAnalysis) {
	if s.faces == nil {
		return
	}
	regions, err := s.faces.DetectFaces(ctx, frame)
	if err != nil {
		s.failures.Add(1)
		vision.Diagf("detect: frame %d face detection failed: %v", frame.Seq, err)
		analysis.Degraded = true
		return
	}
	for _, region := range regions {
		region.FrameSeq = frame.Seq
		match := vision.FaceMatch{Identity: vision.UnknownIdentity, Region: region}
		identity, dist, degraded := s.resolveFace(ctx, frame, region)
		match.Distance = dist
		if identity != "" {
			match.Identity = identity
		}
		if degraded {
			analysis.Degraded = true
		}
		if match.Known() {
			s.facesMatched.Add(1)
		} else {
			s.facesUnknown.Add(1)
		}
		analysis.FaceMatches = append(analysis.FaceMatches, match)
	}
}

// resolveFace turns one region into an identity. All failure paths
// fall back to unknown; only infrastructure failures (encoder, store)
// degrade the frame, an empty enrollment set does not.
func (s *Stage) resolveFace(ctx context.Context, frame *vision.Frame, region vision.FaceRegion) (identity string, dist float32, degraded bool) {
	if s.encoder == nil || s.known == nil {
		return "", 0, false
	}
	embedding, err := s.encoder.Encode(ctx, frame, region)
	if err != nil {
		vision.Diagf("detect: frame %d face encode failed: %v", frame.Seq, err)
		return "", 0, true
	}
	identity, dist, err = s.known.Match(ctx, embedding)
	if errors.Is(err, vision.ErrNoKnownFaces) {
		return "", 0, false
	}
	if err != nil {
		vision.Diagf("detect: frame %d face match failed: %v", frame.Seq, err)
		return "", 0, true
	}
	if dist > s.cfg.FaceMatchThreshold {
		return "", dist, false
	}
	return identity, dist, false
}

func (s *Stage) estimateMotion(frame *vision.Frame, analysis *vision.FrameAnalysis) {
	if s.motion == nil {
		return
	}
	s.mu.Lock()
	prev := s.prev
	s.prev = frame
	s.mu.Unlock()
	if prev == nil {
		return
	}
	pct, err := s.motion.Estimate(prev, frame)
	if err != nil {
		s.failures.Add(1)
		vision.Diagf("detect: frame %d motion estimate failed: %v", frame.Seq, err)
		analysis.Degraded = true
		return
	}
	analysis.MotionPct = pct
}

// StageStats are cumulative stage counters.
type StageStats struct {
	Frames         uint64 `json:"frames"`
	Failures       uint64 `json:"failures"`
	DegradedFrames uint64 `json:"degraded_frames"`
	TimedOut       uint64 `json:"timed_out"`
	FacesMatched   uint64 `json:"faces_matched"`
	FacesUnknown   uint64 `json:"faces_unknown"`
}

// Stats returns a snapshot of the counters.
func (s *Stage) Stats() StageStats {
	return StageStats{
		Frames:         s.frames.Load(),
		Failures:       s.failures.Load(),
		DegradedFrames: s.degraded.Load(),
		TimedOut:       s.timeoutBudget.Load(),
		FacesMatched:   s.facesMatched.Load(),
		FacesUnknown:   s.facesUnknown.Load(),
	}
}
