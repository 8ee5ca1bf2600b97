package analytics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

// Config holds analytics window parameters.
type Config struct {
	FlushInterval   time.Duration // close the window after this much time
	FlushFrameCount int           // or after this many analyzed frames; 0 disables
	GridW, GridH    int           // heatmap cells
	FrameW, FrameH  int           // source frame size in pixels
	DecayRate       float64       // heatmap per-cycle retention multiplier
}

// Aggregator folds per-frame analysis and tracker output into window
// statistics. People counting and dwell cover person-class tracks;
// the heatmap covers every detection class.
type Aggregator struct {
	mu   sync.Mutex
	cfg  Config
	heat *Heatmap

	windowStart time.Time
	frames      int
	degraded    int

	seenPeople     map[uint64]struct{} // distinct person tracks active in window
	peakConcurrent int
	dwellSec       []float64 // samples closed within the window (retired tracks)
}

// NewAggregator returns an aggregator with an open window starting at
// the first observed frame.
func NewAggregator(cfg Config) (*Aggregator, error) {
	heat, err := NewHeatmap(cfg.GridW, cfg.GridH, cfg.FrameW, cfg.FrameH, cfg.DecayRate)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		cfg:        cfg,
		heat:       heat,
		seenPeople: make(map[uint64]struct{}),
	}, nil
}

// Observe folds one analyzed frame into the open window. The track
// update must come from the same frame's tracker pass.
func (g *Aggregator) Observe(a *vision.FrameAnalysis, up track.TrackUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.windowStart.IsZero() {
		g.windowStart = a.Timestamp
	}
	g.frames++
	if a.Degraded {
		g.degraded++
	}

	g.heat.Advance()
	for _, det := range a.Detections {
		g.heat.Add(det)
	}

	// A track spawned this frame is a person in view just as much as a
	// re-matched one; both feed concurrency and the distinct-people set.
	concurrent := 0
	for _, trks := range [2][]*track.Track{up.Matched, up.Created} {
		for _, trk := range trks {
			if trk.Class != "person" {
				continue
			}
			concurrent++
			g.seenPeople[trk.ID] = struct{}{}
		}
	}
	if concurrent > g.peakConcurrent {
		g.peakConcurrent = concurrent
	}

	for _, trk := range up.Retired {
		if trk.Class == "person" {
			g.dwellSec = append(g.dwellSec, trk.DwellTime().Seconds())
		}
	}
}

// Due reports whether the open window should close at now: either the
// flush interval has elapsed or the frame budget is spent. An empty
// window (no frames yet) is never due.
func (g *Aggregator) Due(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frames == 0 {
		return false
	}
	if g.cfg.FlushFrameCount > 0 && g.frames >= g.cfg.FlushFrameCount {
		return true
	}
	return g.cfg.FlushInterval > 0 && now.Sub(g.windowStart) >= g.cfg.FlushInterval
}

// Flush closes the window and returns its sample. Tracks still live at
// the boundary contribute their dwell so far; counters and dwell reset
// for the next window while the heatmap carries its decayed weights
// forward. A window with zero detections is still a valid sample.
func (g *Aggregator) Flush(now time.Time, live []*track.Track) *vision.AnalyticsSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	dwell := make([]float64, len(g.dwellSec))
	copy(dwell, g.dwellSec)
	for _, trk := range live {
		if trk.Class == "person" {
			dwell = append(dwell, trk.DwellTime().Seconds())
		}
	}

	start := g.windowStart
	if start.IsZero() {
		start = now
	}
	sample := &vision.AnalyticsSample{
		WindowStart:    start,
		WindowEnd:      now,
		PeopleCount:    len(g.seenPeople),
		QueueDepth:     g.peakConcurrent,
		FramesAnalyzed: g.frames,
		DegradedFrames: g.degraded,
		Heatmap:        g.heat.Snapshot(now),
	}
	if len(dwell) > 0 {
		sort.Float64s(dwell)
		sample.AvgDwellSec = stat.Mean(dwell, nil)
		sample.P50DwellSec = stat.Quantile(0.5, stat.Empirical, dwell, nil)
		sample.P95DwellSec = stat.Quantile(0.95, stat.Empirical, dwell, nil)
	}

	g.windowStart = now
	g.frames = 0
	g.degraded = 0
	g.peakConcurrent = 0
	g.seenPeople = make(map[uint64]struct{})
	g.dwellSec = g.dwellSec[:0]
	return sample
}

// HeatmapSnapshot returns the current decayed grid without closing the
// window. Used by the live monitor endpoints.
func (g *Aggregator) HeatmapSnapshot(now time.Time) *vision.HeatmapSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heat.Snapshot(now)
}
