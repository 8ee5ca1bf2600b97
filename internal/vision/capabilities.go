package vision

import (
	"context"
	"errors"
)

// ErrSourceUnavailable is returned by a FrameSource when the capture
// device has failed permanently. The engine raises a single critical
// event for it and stops capture; it never restarts the source.
var ErrSourceUnavailable = errors.New("frame source unavailable")

// ErrNoKnownFaces is returned by a KnownFaceStore with no enrolled
// identities. Callers treat every face as unknown; the store itself is
// healthy, so this does not mark analysis as degraded.
var ErrNoKnownFaces = errors.New("no known faces enrolled")

// FrameSource delivers captured frames in sequence order. Next blocks
// until a frame is available, the source ends (io.EOF), or the source
// fails permanently (ErrSourceUnavailable). Implementations must
// honour ctx cancellation while blocked.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// ObjectDetector finds objects on a single frame. A non-nil error
// means this frame could not be analyzed; the detector must still be
// usable for later frames.
type ObjectDetector interface {
	Detect(ctx context.Context, frame *Frame) ([]Detection, error)
}

// FaceDetector locates face regions on a single frame.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame *Frame) ([]FaceRegion, error)
}

// FaceEncoder produces an embedding vector for one face region.
type FaceEncoder interface {
	Encode(ctx context.Context, frame *Frame, region FaceRegion) ([]float32, error)
}

// KnownFaceStore matches an embedding against enrolled identities.
// Match returns the nearest identity and its distance; thresholding is
// the caller's concern. An empty store returns ErrNoKnownFaces.
type KnownFaceStore interface {
	Match(ctx context.Context, embedding []float32) (identity string, distance float32, err error)
}

// MotionEstimator scores pixel change between two consecutive frames
// as a percentage of the frame area, in [0, 100].
type MotionEstimator interface {
	Estimate(prev, cur *Frame) (float64, error)
}

// EventSink persists rule engine events.
type EventSink interface {
	PersistEvent(ctx context.Context, event *Event) error
}

// AnalyticsSink persists closed analytics windows.
type AnalyticsSink interface {
	PersistSample(ctx context.Context, sample *AnalyticsSample) error
}

// Notifier pushes an event to an external channel (webhook, log).
// Notify must never block the caller; delivery is best-effort.
type Notifier interface {
	Notify(event *Event)
}
