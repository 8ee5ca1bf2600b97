// Package rules turns per-frame analysis into security events. Each
// rule kind watches one condition (unknown faces, restricted objects,
// motion, after-hours activity) and holds per-entity cooldown state so
// a continuously violating entity raises exactly one event per
// cooldown window, however many frames the condition spans.
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gift01-source/Camera/internal/config"
	"github.com/Gift01-source/Camera/internal/timeutil"
	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

// Phase is the reported cooldown phase of one rule entity.
type Phase string

const (
	PhaseIdle      Phase = "idle"      // no recent event, next violation fires
	PhaseTriggered Phase = "triggered" // fired on the current evaluation
	PhaseCooldown  Phase = "cooldown"  // recently fired, violations suppressed
)

// sourceEntity keys rules that watch the whole camera view rather
// than one track.
const sourceEntity = "source"

// RuleConfig defines one rule kind.
type RuleConfig struct {
	Kind     vision.EventType
	Severity vision.Severity
	Cooldown time.Duration
	Enabled  bool

	// Kind-specific parameters; unused fields are ignored.
	MotionThresholdPct float64             // motion: trigger at or above this change percentage
	RestrictedClasses  []string            // restricted_object: detection classes that alarm
	AllowedHours       timeutil.HourWindow // after_hours: activity outside this window alarms
}

type stateKey struct {
	kind   vision.EventType
	entity string
}

type entityState struct {
	firedAt    time.Time
	touchedAt  time.Time
	fired      uint64
	suppressed uint64
}

// Engine evaluates the configured rules against each analyzed frame.
// Time flows from frame timestamps, not the wall clock, so cooldown
// behaviour is reproducible in replay and test.
type Engine struct {
	mu     sync.Mutex
	rules  map[vision.EventType]RuleConfig
	states map[stateKey]*entityState

	emitted    uint64
	suppressed uint64
	lastPrune  time.Time
}

// staleEntityAge is how long an untouched entity's cooldown state is
// kept before pruning. Retired track IDs never come back, so their
// entries only need to outlive the longest plausible cooldown.
const staleEntityAge = 30 * time.Minute

// DefaultRules returns the rule set loaded from the canonical tuning
// defaults file (config/tuning.defaults.json). Panics if the file
// cannot be found — intended for tests and binaries that have already
// validated config availability.
func DefaultRules() []RuleConfig {
	cfg := config.MustLoadDefaultConfig()
	return RulesFromTuning(cfg)
}

// RulesFromTuning builds the four standard rule definitions from a
// loaded TuningConfig. Use this in production code where the
// TuningConfig is already loaded and validated.
func RulesFromTuning(cfg *config.TuningConfig) []RuleConfig {
	hours, err := timeutil.ParseHourWindow(cfg.GetAllowedHours())
	if err != nil {
		vision.Opsf("rules: bad allowed_hours %q, after-hours rule covers the whole day: %v",
			cfg.GetAllowedHours(), err)
		hours = timeutil.MustParseHourWindow("00:00-23:59")
	}
	return []RuleConfig{
		{
			Kind:               vision.EventMotion,
			Severity:           vision.SeverityMedium,
			Cooldown:           cfg.GetMotionCooldown(),
			Enabled:            true,
			MotionThresholdPct: cfg.GetMotionThresholdPct(),
		},
		{
			Kind:     vision.EventUnknownFace,
			Severity: vision.SeverityHigh,
			Cooldown: cfg.GetUnknownFaceCooldown(),
			Enabled:  true,
		},
		{
			Kind:              vision.EventRestrictedObject,
			Severity:          vision.SeverityCritical,
			Cooldown:          cfg.GetRestrictedObjectCooldown(),
			Enabled:           true,
			RestrictedClasses: cfg.GetRestrictedClasses(),
		},
		{
			Kind:         vision.EventAfterHours,
			Severity:     vision.SeverityHigh,
			Cooldown:     cfg.GetAfterHoursCooldown(),
			Enabled:      true,
			AllowedHours: hours,
		},
	}
}

// NewEngine builds an engine from rule definitions. Disabled rules
// and rules with unknown severities are dropped with a warning.
func NewEngine(rules []RuleConfig) *Engine {
	e := &Engine{
		rules:  make(map[vision.EventType]RuleConfig, len(rules)),
		states: make(map[stateKey]*entityState),
	}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !vision.ValidSeverity(r.Severity) {
			vision.Opsf("rules: dropping %s rule with invalid severity %q", r.Kind, r.Severity)
			continue
		}
		e.rules[r.Kind] = r
	}
	return e
}

// Evaluate runs every enabled rule against one frame's analysis and
// the tracks touched by that frame. Returned events are final: the
// caller persists and fans them out, and a sink failure downstream
// never rolls engine state back.
func (e *Engine) Evaluate(a *vision.FrameAnalysis, tracks []*track.Track) []*vision.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := a.Timestamp
	var events []*vision.Event

	if r, ok := e.rules[vision.EventMotion]; ok {
		if a.MotionPct >= r.MotionThresholdPct && r.MotionThresholdPct > 0 {
			ev := e.fire(r, sourceEntity, now, a, 0,
				fmt.Sprintf("motion on %.1f%% of frame", a.MotionPct),
				map[string]any{"motion_pct": a.MotionPct})
			if ev != nil {
				events = append(events, ev)
			}
		}
	}

	if r, ok := e.rules[vision.EventRestrictedObject]; ok {
		for _, trk := range tracks {
			if !restrictedClass(r.RestrictedClasses, trk.Class) {
				continue
			}
			ev := e.fire(r, trackEntity(trk.ID), now, a, trk.ID,
				fmt.Sprintf("restricted object %q in view", trk.Class),
				map[string]any{"class": trk.Class, "confidence": trk.Confidence})
			if ev != nil {
				events = append(events, ev)
			}
		}
	}

	if r, ok := e.rules[vision.EventUnknownFace]; ok {
		for _, match := range a.FaceMatches {
			if match.Known() {
				continue
			}
			trkID := overlappingPersonTrack(match.Region, tracks)
			entity := sourceEntity
			if trkID != 0 {
				entity = trackEntity(trkID)
			}
			ev := e.fire(r, entity, now, a, trkID,
				"unrecognized face in view",
				map[string]any{"distance": match.Distance})
			if ev != nil {
				events = append(events, ev)
			}
		}
	}

	if r, ok := e.rules[vision.EventAfterHours]; ok {
		if !r.AllowedHours.Contains(now) {
			for _, trk := range tracks {
				if trk.Class != "person" {
					continue
				}
				ev := e.fire(r, trackEntity(trk.ID), now, a, trk.ID,
					fmt.Sprintf("person present outside allowed hours %s", r.AllowedHours),
					map[string]any{"allowed_hours": r.AllowedHours.String()})
				if ev != nil {
					events = append(events, ev)
				}
			}
		}
	}

	e.maybePrune(now)
	return events
}

// fire emits one event for the entity unless its cooldown window is
// still open. Caller holds e.mu.
func (e *Engine) fire(r RuleConfig, entity string, now time.Time, a *vision.FrameAnalysis, trackID uint64, detail string, payload map[string]any) *vision.Event {
	key := stateKey{kind: r.Kind, entity: entity}
	st, ok := e.states[key]
	if !ok {
		st = &entityState{}
		e.states[key] = st
	}
	st.touchedAt = now

	if st.fired > 0 && now.Sub(st.firedAt) < r.Cooldown {
		st.suppressed++
		e.suppressed++
		return nil
	}

	st.firedAt = now
	st.fired++
	e.emitted++
	return &vision.Event{
		ID:        uuid.NewString(),
		Type:      r.Kind,
		Severity:  r.Severity,
		Timestamp: now,
		TrackID:   trackID,
		FrameSeq:  a.FrameSeq,
		Detail:    detail,
		Payload:   payload,
		Degraded:  a.Degraded,
	}
}

// maybePrune drops entities untouched long enough that their cooldown
// state can never matter again.
func (e *Engine) maybePrune(now time.Time) {
	if !e.lastPrune.IsZero() && now.Sub(e.lastPrune) < 5*time.Minute {
		return
	}
	e.lastPrune = now
	for key, st := range e.states {
		if now.Sub(st.touchedAt) > staleEntityAge {
			delete(e.states, key)
		}
	}
}

func trackEntity(id uint64) string {
	return fmt.Sprintf("track:%d", id)
}

func restrictedClass(classes []string, class string) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

// overlappingPersonTrack resolves a face region to the person track
// whose box contains its centre, so repeat sightings of the same
// unknown person share one cooldown entity. Returns 0 when no person
// track overlaps.
func overlappingPersonTrack(region vision.FaceRegion, tracks []*track.Track) uint64 {
	cx, cy := region.BBox.Center()
	for _, trk := range tracks {
		if trk.Class != "person" {
			continue
		}
		b := trk.BBox
		if cx >= b.X && cx < b.X+b.W && cy >= b.Y && cy < b.Y+b.H {
			return trk.ID
		}
	}
	return 0
}

// EntityStatus reports one entity's cooldown state.
type EntityStatus struct {
	Kind       vision.EventType `json:"kind"`
	Entity     string           `json:"entity"`
	Phase      Phase            `json:"phase"`
	FiredAt    time.Time        `json:"fired_at,omitempty"`
	Fired      uint64           `json:"fired"`
	Suppressed uint64           `json:"suppressed"`
}

// EngineStats are cumulative engine counters.
type EngineStats struct {
	Emitted    uint64 `json:"emitted"`
	Suppressed uint64 `json:"suppressed"`
	Entities   int    `json:"entities"`
}

// Stats returns cumulative counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{Emitted: e.emitted, Suppressed: e.suppressed, Entities: len(e.states)}
}

// Entities reports per-entity cooldown status as of the given time.
func (e *Engine) Entities(now time.Time) []EntityStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EntityStatus, 0, len(e.states))
	for key, st := range e.states {
		phase := PhaseIdle
		if r, ok := e.rules[key.kind]; ok && st.fired > 0 {
			switch {
			case now.Equal(st.firedAt):
				phase = PhaseTriggered
			case now.Sub(st.firedAt) < r.Cooldown:
				phase = PhaseCooldown
			}
		}
		out = append(out, EntityStatus{
			Kind:       key.kind,
			Entity:     key.entity,
			Phase:      phase,
			FiredAt:    st.firedAt,
			Fired:      st.fired,
			Suppressed: st.suppressed,
		})
	}
	return out
}
