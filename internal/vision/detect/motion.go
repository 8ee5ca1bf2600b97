package detect

import (
	"fmt"

	"github.com/Gift01-source/Camera/internal/vision"
)

// DiffMotionEstimator scores motion as the percentage of sampled
// pixels whose grayscale value changed by more than PixelDelta between
// two frames. It only understands raw gray8 buffers; encoded formats
// need a decoding source or a detector-side motion score.
type DiffMotionEstimator struct {
	PixelDelta uint8 // per-pixel change threshold
	Stride     int   // sample every Nth pixel; 1 checks all
}

// NewDiffMotionEstimator returns an estimator with the given pixel
// threshold, sampling every stride-th pixel.
func NewDiffMotionEstimator(pixelDelta uint8, stride int) *DiffMotionEstimator {
	if stride < 1 {
		stride = 1
	}
	return &DiffMotionEstimator{PixelDelta: pixelDelta, Stride: stride}
}

// Estimate returns the changed-pixel percentage in [0, 100].
func (e *DiffMotionEstimator) Estimate(prev, cur *vision.Frame) (float64, error) {
	if prev.Format != vision.FormatGray8 || cur.Format != vision.FormatGray8 {
		return 0, fmt.Errorf("motion estimation needs gray8 frames, got %s and %s", prev.Format, cur.Format)
	}
	if prev.Width != cur.Width || prev.Height != cur.Height {
		return 0, fmt.Errorf("frame size changed from %dx%d to %dx%d", prev.Width, prev.Height, cur.Width, cur.Height)
	}
	n := len(cur.Data)
	if len(prev.Data) != n || n == 0 {
		return 0, fmt.Errorf("pixel buffer length mismatch: %d vs %d", len(prev.Data), n)
	}

	sampled, changed := 0, 0
	for i := 0; i < n; i += e.Stride {
		sampled++
		d := int(cur.Data[i]) - int(prev.Data[i])
		if d < 0 {
			d = -d
		}
		if d > int(e.PixelDelta) {
			changed++
		}
	}
	return 100 * float64(changed) / float64(sampled), nil
}
