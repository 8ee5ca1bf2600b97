// Package vision provides the core data model and frame distribution
// machinery for the camera analysis engine: the bounded frame ring, the
// pipeline dispatcher, the event bus, and the sqlite-backed stores that
// the security and analytics pipelines share.
package vision

import (
	"fmt"
	"time"
)

// PixelFormat identifies the encoding of a Frame's Data buffer.
type PixelFormat string

const (
	// FormatGray8 is a raw 8-bit grayscale buffer of Width*Height bytes.
	FormatGray8 PixelFormat = "gray8"
	// FormatJPEG is a JPEG-encoded buffer.
	FormatJPEG PixelFormat = "jpeg"
)

// Frame is a single captured video frame. The pixel buffer is owned
// exclusively by the capture loop until the frame is pushed into the
// ring; from then on it is shared read-only by every consumer. No
// consumer may mutate Data.
type Frame struct {
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Format    PixelFormat `json:"format"`
	Data      []byte      `json:"-"`
}

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Center returns the box centre point.
func (b BBox) Center() (float32, float32) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the box area in square pixels.
func (b BBox) Area() float32 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU returns the intersection-over-union overlap with another box,
// in [0, 1].
func (b BBox) IoU(o BBox) float32 {
	x1 := maxf(b.X, o.X)
	y1 := maxf(b.Y, o.Y)
	x2 := minf(b.X+b.W, o.X+o.W)
	y2 := minf(b.Y+b.H, o.Y+o.H)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// Detection is a single object detection on one frame.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	FrameSeq   uint64  `json:"frame_seq"`
}

// FaceRegion is a detected face location on one frame.
type FaceRegion struct {
	BBox     BBox   `json:"bbox"`
	FrameSeq uint64 `json:"frame_seq"`
}

// UnknownIdentity is the identity reported when no known face is
// within the match threshold, or when the face store is unavailable.
const UnknownIdentity = "unknown"

// FaceMatch is the result of matching one face region against the
// known-face store.
type FaceMatch struct {
	Identity string     `json:"identity"`
	Distance float32    `json:"distance"`
	Region   FaceRegion `json:"region"`
}

// Known reports whether the match resolved to a known identity.
func (m FaceMatch) Known() bool {
	return m.Identity != UnknownIdentity && m.Identity != ""
}

// FrameAnalysis is the per-frame output of a detection stage: what was
// found on the frame, plus the degraded flag when any capability
// failed and returned nothing.
type FrameAnalysis struct {
	FrameSeq    uint64      `json:"frame_seq"`
	Timestamp   time.Time   `json:"timestamp"`
	Detections  []Detection `json:"detections"`
	FaceMatches []FaceMatch `json:"face_matches,omitempty"`
	MotionPct   float64     `json:"motion_pct"`
	Degraded    bool        `json:"degraded"`
}

// Severity grades an Event for alert consumers.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityInfo     Severity = "info"
)

// ValidSeverity reports whether s is one of the defined levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityInfo:
		return true
	}
	return false
}

// severityRank orders levels for threshold comparisons; higher is more
// urgent. Unknown levels rank below info.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// SeverityAtLeast reports whether s is as urgent as min or more so.
func SeverityAtLeast(s, min Severity) bool {
	return severityRank(s) >= severityRank(min)
}

// EventType names the rule kind that produced an Event.
type EventType string

const (
	EventUnknownFace      EventType = "unknown_face"
	EventRestrictedObject EventType = "restricted_object"
	EventMotion           EventType = "motion"
	EventAfterHours       EventType = "after_hours"
	EventSourceFailure    EventType = "source_failure"
)

// Event is an alert produced by the rule engine. Events are immutable
// once created; cross-references (track, frame, clip) are stored by
// stable identifier, never by pointer.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	TrackID   uint64         `json:"track_id,omitempty"`
	FrameSeq  uint64         `json:"frame_seq,omitempty"`
	Detail    string         `json:"detail"`
	Payload   map[string]any `json:"payload,omitempty"`
	Degraded  bool           `json:"degraded"`
	ClipID    string         `json:"clip_id,omitempty"`
}

// String renders a compact one-line description for logs.
func (e *Event) String() string {
	return fmt.Sprintf("%s/%s track=%d frame=%d %s", e.Type, e.Severity, e.TrackID, e.FrameSeq, e.Detail)
}

// WithClip returns a copy of the event carrying a clip reference. The
// original event is left untouched.
func (e *Event) WithClip(clipID string) *Event {
	clone := *e
	clone.ClipID = clipID
	return &clone
}

// HeatmapSnapshot is a dense copy of the analytics heatmap grid taken
// at a flush boundary. Weights are row-major, GridW*GridH entries.
type HeatmapSnapshot struct {
	GridW   int       `json:"grid_w"`
	GridH   int       `json:"grid_h"`
	Weights []float32 `json:"weights"`
	TakenAt time.Time `json:"taken_at"`
}

// At returns the weight of cell (cx, cy), or 0 when out of range.
func (h *HeatmapSnapshot) At(cx, cy int) float32 {
	if cx < 0 || cy < 0 || cx >= h.GridW || cy >= h.GridH {
		return 0
	}
	return h.Weights[cy*h.GridW+cx]
}

// AnalyticsSample summarizes one closed analytics window.
type AnalyticsSample struct {
	WindowStart    time.Time        `json:"window_start"`
	WindowEnd      time.Time        `json:"window_end"`
	PeopleCount    int              `json:"people_count"`
	QueueDepth     int              `json:"queue_depth"`
	AvgDwellSec    float64          `json:"avg_dwell_sec"`
	P50DwellSec    float64          `json:"p50_dwell_sec"`
	P95DwellSec    float64          `json:"p95_dwell_sec"`
	FramesAnalyzed int              `json:"frames_analyzed"`
	DegradedFrames int              `json:"degraded_frames"`
	Heatmap        *HeatmapSnapshot `json:"heatmap,omitempty"`
}

// Clip references an extracted incident recording: a contiguous run of
// frames written to disk around a critical event.
type Clip struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	StartSeq   uint64    `json:"start_seq"`
	EndSeq     uint64    `json:"end_seq"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	FrameCount int       `json:"frame_count"`
	Partial    bool      `json:"partial"`
	Dir        string    `json:"dir"`
}
