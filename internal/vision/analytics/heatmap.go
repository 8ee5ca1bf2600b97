// Package analytics accumulates occupancy statistics over fixed
// windows: distinct people seen, dwell times, peak concurrency, and a
// decaying activity heatmap. Windows close on a timer or frame budget;
// counters reset at the boundary while the heatmap carries over so
// long-lived hot zones stay visible across flushes.
package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// Heatmap is a fixed grid over the frame area. Every detection adds
// its confidence to the cell under its box centre, and each analyzed
// frame is one decay cycle: a cell's weight is multiplied by the decay
// rate once per cycle, so with contribution w repeated over N cycles
// the weight converges to w/(1-d).
//
// Decay is applied lazily per cell. A cell stores the cycle it was
// last settled at and catches up with one pow() when touched or read,
// which keeps per-frame cost proportional to detections rather than
// grid size. Not safe for concurrent use; the aggregator serializes
// access.
type Heatmap struct {
	gridW, gridH   int
	frameW, frameH int
	decay          float64

	cycle     uint64
	weights   []float64
	lastCycle []uint64
}

// NewHeatmap builds a grid mapping frameW x frameH pixels onto
// gridW x gridH cells. Decay is the per-cycle retention multiplier in
// (0, 1]; 1 disables decay.
func NewHeatmap(gridW, gridH, frameW, frameH int, decay float64) (*Heatmap, error) {
	if gridW <= 0 || gridH <= 0 {
		return nil, fmt.Errorf("heatmap grid must be positive, got %dx%d", gridW, gridH)
	}
	if frameW <= 0 || frameH <= 0 {
		return nil, fmt.Errorf("heatmap frame size must be positive, got %dx%d", frameW, frameH)
	}
	if decay <= 0 || decay > 1 {
		return nil, fmt.Errorf("heatmap decay must be in (0, 1], got %g", decay)
	}
	n := gridW * gridH
	return &Heatmap{
		gridW:     gridW,
		gridH:     gridH,
		frameW:    frameW,
		frameH:    frameH,
		decay:     decay,
		weights:   make([]float64, n),
		lastCycle: make([]uint64, n),
	}, nil
}

// Advance starts the next decay cycle. Call once per analyzed frame,
// before adding that frame's detections.
func (h *Heatmap) Advance() {
	h.cycle++
}

// settle catches cell idx up to the current cycle.
func (h *Heatmap) settle(idx int) {
	if behind := h.cycle - h.lastCycle[idx]; behind > 0 {
		h.weights[idx] *= math.Pow(h.decay, float64(behind))
		h.lastCycle[idx] = h.cycle
	}
}

// Add contributes one detection to the cell under its box centre.
// Centres outside the frame bounds are clamped to the edge cells.
func (h *Heatmap) Add(det vision.Detection) {
	cx, cy := det.BBox.Center()
	gx := int(float64(cx) * float64(h.gridW) / float64(h.frameW))
	gy := int(float64(cy) * float64(h.gridH) / float64(h.frameH))
	if gx < 0 {
		gx = 0
	}
	if gx >= h.gridW {
		gx = h.gridW - 1
	}
	if gy < 0 {
		gy = 0
	}
	if gy >= h.gridH {
		gy = h.gridH - 1
	}
	idx := gy*h.gridW + gx
	h.settle(idx)
	h.weights[idx] += float64(det.Confidence)
}

// Snapshot settles every cell to the current cycle and returns a
// dense copy.
func (h *Heatmap) Snapshot(now time.Time) *vision.HeatmapSnapshot {
	out := &vision.HeatmapSnapshot{
		GridW:   h.gridW,
		GridH:   h.gridH,
		Weights: make([]float32, len(h.weights)),
		TakenAt: now,
	}
	for i := range h.weights {
		h.settle(i)
		out.Weights[i] = float32(h.weights[i])
	}
	return out
}
