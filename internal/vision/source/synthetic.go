// Package source provides the FrameSource implementations: a
// deterministic synthetic generator for demos and tests, and a UDP
// datagram listener for live MJPEG ingest.
package source

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// SyntheticConfig shapes the generated stream.
type SyntheticConfig struct {
	Width    int
	Height   int
	Interval time.Duration // frame spacing; also paces Next in realtime mode
	Blobs    int           // moving bright rectangles
	Start    time.Time     // timestamp of frame 0; zero means time.Now
	Realtime bool          // pace Next at Interval instead of returning immediately

	FrameLimit int // stop with io.EOF after this many frames; 0 is unbounded
	FailAfter  int // report ErrSourceUnavailable after this many frames; 0 never
}

type blob struct {
	x, y   int
	dx, dy int
	w, h   int
	val    byte
}

// Synthetic generates gray8 frames with bright blobs bouncing over a
// flat background. Identical configs produce identical streams, which
// is what makes it usable as a test fixture.
type Synthetic struct {
	cfg SyntheticConfig

	mu     sync.Mutex
	blobs  []blob
	n      int
	closed bool
}

// NewSynthetic returns a generator with defaults filled in: 64x48 at
// 15 fps with one blob.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 66 * time.Millisecond
	}
	if cfg.Blobs <= 0 {
		cfg.Blobs = 1
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	s := &Synthetic{cfg: cfg}
	for i := 0; i < cfg.Blobs; i++ {
		s.blobs = append(s.blobs, blob{
			x:   (i*17 + 3) % maxInt(cfg.Width-10, 1),
			y:   (i*11 + 2) % maxInt(cfg.Height-16, 1),
			dx:  1 + i%3,
			dy:  1 + (i+1)%2,
			w:   10,
			h:   16,
			val: 230,
		})
	}
	return s
}

// Next renders the next frame. In realtime mode it first sleeps until
// the frame is due, honouring ctx while waiting.
func (s *Synthetic) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	n := s.n
	if s.cfg.FrameLimit > 0 && n >= s.cfg.FrameLimit {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if s.cfg.FailAfter > 0 && n >= s.cfg.FailAfter {
		s.mu.Unlock()
		return nil, vision.ErrSourceUnavailable
	}
	s.n++
	frame := s.render(n)
	s.step()
	s.mu.Unlock()

	if s.cfg.Realtime {
		if wait := time.Until(frame.Timestamp); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return frame, nil
}

// render draws frame n. Caller holds s.mu.
func (s *Synthetic) render(n int) *vision.Frame {
	w, h := s.cfg.Width, s.cfg.Height
	data := make([]byte, w*h)
	for i := range data {
		data[i] = 12
	}
	for _, b := range s.blobs {
		for y := b.y; y < b.y+b.h && y < h; y++ {
			if y < 0 {
				continue
			}
			row := y * w
			for x := b.x; x < b.x+b.w && x < w; x++ {
				if x < 0 {
					continue
				}
				data[row+x] = b.val
			}
		}
	}
	return &vision.Frame{
		Timestamp: s.cfg.Start.Add(time.Duration(n) * s.cfg.Interval),
		Width:     w,
		Height:    h,
		Format:    vision.FormatGray8,
		Data:      data,
	}
}

// step advances every blob one tick, bouncing off the edges. Caller
// holds s.mu.
func (s *Synthetic) step() {
	for i := range s.blobs {
		b := &s.blobs[i]
		b.x += b.dx
		b.y += b.dy
		if b.x < 0 {
			b.x, b.dx = 0, -b.dx
		}
		if b.x+b.w > s.cfg.Width {
			b.x, b.dx = s.cfg.Width-b.w, -b.dx
		}
		if b.y < 0 {
			b.y, b.dy = 0, -b.dy
		}
		if b.y+b.h > s.cfg.Height {
			b.y, b.dy = s.cfg.Height-b.h, -b.dy
		}
	}
}

// Close makes all subsequent Next calls return io.EOF.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
