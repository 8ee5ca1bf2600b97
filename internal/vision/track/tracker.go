// Package track maintains object identity across frames. Detections
// from the analysis stage are associated to existing tracks by centroid
// distance or box overlap, and each track moves through an explicit
// lifecycle: active from the spawning match onward, lost while missing,
// retired once the miss budget is exhausted. Track IDs are monotonic
// and never reused, so every downstream reference (events, analytics,
// clips) stays unambiguous for the life of the process.
package track

import (
	"sync"
	"time"

	"github.com/Gift01-source/Camera/internal/config"
	"github.com/Gift01-source/Camera/internal/vision"
)

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	StateActive  TrackState = "active"  // matched on the most recent update, the spawning one included
	StateLost    TrackState = "lost"    // missed at least once, still inside the miss budget
	StateRetired TrackState = "retired" // miss budget exhausted; terminal
)

// TrackerConfig holds the association and lifecycle parameters.
type TrackerConfig struct {
	Mode               AssociationMode // centroid or iou
	MaxMatchDistancePx float32         // centroid gate (pixels)
	IoUThreshold       float32         // iou gate [0, 1]
	TrackMissLimit     int             // consecutive misses before a lost track retires
	MaxTracks          int             // cap on live (non-retired) tracks
	MaxHistoryLength   int             // position trail length per track
	RetiredGracePeriod time.Duration   // how long retired tracks stay queryable
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found — intended for tests and binaries
// that have already validated config availability.
func DefaultTrackerConfig() TrackerConfig {
	cfg := config.MustLoadDefaultConfig()
	return TrackerConfigFromTuning(cfg)
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded
// TuningConfig. Use this in production code where the TuningConfig is
// already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		Mode:               AssociationMode(cfg.GetAssociationMode()),
		MaxMatchDistancePx: float32(cfg.GetMaxMatchDistancePx()),
		IoUThreshold:       float32(cfg.GetIoUThreshold()),
		TrackMissLimit:     cfg.GetTrackMissLimit(),
		MaxTracks:          cfg.GetMaxTracks(),
		MaxHistoryLength:   cfg.GetMaxTrackHistoryLength(),
		RetiredGracePeriod: cfg.GetRetiredTrackGracePeriod(),
	}
}

// TrackPoint is one position sample in a track's trail.
type TrackPoint struct {
	X, Y      float32
	Timestamp time.Time
}

// Track is a single tracked object.
type Track struct {
	ID    uint64
	Class string
	State TrackState

	// Last associated observation.
	BBox       vision.BBox
	Confidence float32
	FrameSeq   uint64

	// Lifecycle counters.
	Hits   int // consecutive successful associations
	Misses int // consecutive missed associations

	CreatedAt  time.Time
	LastSeenAt time.Time // timestamp of the last matched observation
	RetiredAt  time.Time // zero until retired

	ObservationCount int
	History          []TrackPoint
}

// DwellTime returns how long the object was observed, entry to last
// sighting. Time spent lost before retirement does not count.
func (trk *Track) DwellTime() time.Duration {
	if trk.LastSeenAt.Before(trk.CreatedAt) {
		return 0
	}
	return trk.LastSeenAt.Sub(trk.CreatedAt)
}

// Live reports whether the track still participates in association.
func (trk *Track) Live() bool {
	return trk.State != StateRetired
}

// TrackUpdate reports the outcome of one tracker update. All tracks
// are snapshots; mutating them does not affect tracker state.
type TrackUpdate struct {
	Matched []*Track // tracks associated to a detection this update
	Created []*Track // tracks spawned from unmatched detections
	Lost    []*Track // tracks that transitioned to lost this update
	Retired []*Track // tracks that exhausted the miss budget this update
}

// Tracker manages multi-object tracking with explicit lifecycle states.
type Tracker struct {
	mu     sync.RWMutex
	tracks map[uint64]*Track
	nextID uint64
	cfg    TrackerConfig

	tracksCreated uint64
	tracksRetired uint64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.TrackMissLimit < 1 {
		cfg.TrackMissLimit = 1
	}
	return &Tracker{
		tracks: make(map[uint64]*Track),
		nextID: 1,
		cfg:    cfg,
	}
}

// UpdateConfig applies fn to the tracker configuration under the
// tracker lock. This is the safe way to mutate parameters from outside
// the pipeline goroutine (e.g. HTTP tuning handlers).
func (t *Tracker) UpdateConfig(fn func(*TrackerConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.cfg)
}

// Update processes the detections of one analyzed frame. This is the
// main entry point for the pipeline: it associates detections to live
// tracks, spawns tracks for the leftovers, marks everything unmatched
// as missed, and retires tracks past the miss budget.
func (t *Tracker) Update(dets []vision.Detection, now time.Time) TrackUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out TrackUpdate
	assigned := t.associate(dets)

	// Matched tracks: refresh observation state. A lost track that is
	// matched becomes active again; its miss count resets.
	matched := make(map[uint64]bool, len(dets))
	for di, id := range assigned {
		if id == 0 {
			continue
		}
		trk := t.tracks[id]
		t.observe(trk, dets[di], now)
		matched[id] = true
		out.Matched = append(out.Matched, snapshot(trk))
	}

	// Unmatched live tracks miss this frame. The first miss moves the
	// track to lost; reaching the miss limit retires it for good.
	for id, trk := range t.tracks {
		if matched[id] || trk.State == StateRetired {
			continue
		}
		wasLost := trk.State == StateLost
		t.miss(trk, now)
		switch {
		case trk.State == StateRetired:
			out.Retired = append(out.Retired, snapshot(trk))
		case !wasLost:
			out.Lost = append(out.Lost, snapshot(trk))
		}
	}

	// Leftover detections spawn new tracks, up to the live-track cap.
	for di, id := range assigned {
		if id != 0 {
			continue
		}
		if t.cfg.MaxTracks > 0 && t.liveCountLocked() >= t.cfg.MaxTracks {
			break
		}
		trk := t.spawn(dets[di], now)
		out.Created = append(out.Created, snapshot(trk))
	}

	t.pruneRetired(now)
	return out
}

// AdvanceMisses counts one miss against every live track without
// running association. Called for frames the pipeline could not
// analyze, so stale tracks are not kept alive by dropped frames.
func (t *Tracker) AdvanceMisses(now time.Time) []*Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	var retired []*Track
	for _, trk := range t.tracks {
		if trk.State == StateRetired {
			continue
		}
		t.miss(trk, now)
		if trk.State == StateRetired {
			retired = append(retired, snapshot(trk))
		}
	}
	t.pruneRetired(now)
	return retired
}

// observe applies one matched detection to a track.
func (t *Tracker) observe(trk *Track, det vision.Detection, now time.Time) {
	trk.State = StateActive
	trk.Hits++
	trk.Misses = 0
	trk.BBox = det.BBox
	trk.Confidence = det.Confidence
	trk.FrameSeq = det.FrameSeq
	trk.LastSeenAt = now
	trk.ObservationCount++

	cx, cy := det.BBox.Center()
	trk.History = append(trk.History, TrackPoint{X: cx, Y: cy, Timestamp: now})
	if limit := t.cfg.MaxHistoryLength; limit > 0 && len(trk.History) > limit {
		trk.History = trk.History[len(trk.History)-limit:]
	}
}

// miss counts one missed frame against a track.
func (t *Tracker) miss(trk *Track, now time.Time) {
	trk.Misses++
	trk.Hits = 0
	if trk.Misses >= t.cfg.TrackMissLimit {
		trk.State = StateRetired
		trk.RetiredAt = now
		t.tracksRetired++
		return
	}
	trk.State = StateLost
}

// spawn creates a track from an unassociated detection. The spawning
// match makes the track active immediately; a person seen in exactly
// one analyzed frame still counts. IDs come from a monotonic counter
// and are never reissued, even after the track is pruned.
func (t *Tracker) spawn(det vision.Detection, now time.Time) *Track {
	cx, cy := det.BBox.Center()
	trk := &Track{
		ID:               t.nextID,
		Class:            det.Class,
		State:            StateActive,
		BBox:             det.BBox,
		Confidence:       det.Confidence,
		FrameSeq:         det.FrameSeq,
		Hits:             1,
		CreatedAt:        now,
		LastSeenAt:       now,
		ObservationCount: 1,
		History:          []TrackPoint{{X: cx, Y: cy, Timestamp: now}},
	}
	t.nextID++
	t.tracks[trk.ID] = trk
	t.tracksCreated++
	return trk
}

// pruneRetired drops retired tracks older than the grace period. The
// grace period keeps them visible to late readers (event detail, API
// queries); their IDs stay burned either way.
func (t *Tracker) pruneRetired(now time.Time) {
	if t.cfg.RetiredGracePeriod <= 0 {
		return
	}
	for id, trk := range t.tracks {
		if trk.State == StateRetired && now.Sub(trk.RetiredAt) > t.cfg.RetiredGracePeriod {
			delete(t.tracks, id)
		}
	}
}

func (t *Tracker) liveCountLocked() int {
	n := 0
	for _, trk := range t.tracks {
		if trk.State != StateRetired {
			n++
		}
	}
	return n
}

// snapshot returns a copy safe to hand outside the lock. History is
// deep-copied so pipeline readers never race with later appends.
func snapshot(trk *Track) *Track {
	copied := *trk
	if len(trk.History) > 0 {
		copied.History = make([]TrackPoint, len(trk.History))
		copy(copied.History, trk.History)
	}
	return &copied
}

// ActiveTracks returns snapshots of every track currently in the
// active state.
func (t *Tracker) ActiveTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		if trk.State == StateActive {
			out = append(out, snapshot(trk))
		}
	}
	return out
}

// LiveTracks returns snapshots of every non-retired track.
func (t *Tracker) LiveTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		if trk.State != StateRetired {
			out = append(out, snapshot(trk))
		}
	}
	return out
}

// Get returns a snapshot of one track, or nil when unknown (never
// created, or retired and pruned).
func (t *Tracker) Get(id uint64) *Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	trk, ok := t.tracks[id]
	if !ok {
		return nil
	}
	return snapshot(trk)
}

// Counts returns the number of tracks per state still held.
func (t *Tracker) Counts() (active, lost, retired int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, trk := range t.tracks {
		switch trk.State {
		case StateActive:
			active++
		case StateLost:
			lost++
		case StateRetired:
			retired++
		}
	}
	return
}

// Lifetime returns the total tracks created and retired since start.
func (t *Tracker) Lifetime() (created, retired uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracksCreated, t.tracksRetired
}
