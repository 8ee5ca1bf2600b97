package track

import (
	"math"
	"sort"

	"github.com/Gift01-source/Camera/internal/vision"
)

// AssociationMode selects how detections are scored against tracks.
type AssociationMode string

const (
	// AssociateCentroid gates on Euclidean distance between box centres.
	AssociateCentroid AssociationMode = "centroid"
	// AssociateIoU gates on bounding-box overlap.
	AssociateIoU AssociationMode = "iou"
)

// candidate is one gated (track, detection) pair. Lower cost is a
// better match in both modes; for IoU the cost is 1-overlap.
type candidate struct {
	trackID  uint64
	detIdx   int
	cost     float32
	detConf  float32
	trackAge int64 // CreatedAt unix nanos, for deterministic tie-breaks
}

// buildCandidates scores every same-class (track, detection) pair and
// keeps those inside the gate. Caller holds the tracker lock.
func (t *Tracker) buildCandidates(dets []vision.Detection) []candidate {
	var cands []candidate
	for id, trk := range t.tracks {
		if trk.State == StateRetired {
			continue
		}
		for di, det := range dets {
			if det.Class != trk.Class {
				continue
			}
			cost, ok := t.pairCost(trk, det)
			if !ok {
				continue
			}
			cands = append(cands, candidate{
				trackID:  id,
				detIdx:   di,
				cost:     cost,
				detConf:  det.Confidence,
				trackAge: trk.CreatedAt.UnixNano(),
			})
		}
	}
	return cands
}

// pairCost returns the association cost for one pair and whether the
// pair passes the gate.
func (t *Tracker) pairCost(trk *Track, det vision.Detection) (float32, bool) {
	switch t.cfg.Mode {
	case AssociateIoU:
		overlap := trk.BBox.IoU(det.BBox)
		if overlap < t.cfg.IoUThreshold {
			return 0, false
		}
		return 1 - overlap, true
	default:
		tx, ty := trk.BBox.Center()
		dx, dy := det.BBox.Center()
		dist := float32(math.Hypot(float64(dx-tx), float64(dy-ty)))
		if dist > t.cfg.MaxMatchDistancePx {
			return 0, false
		}
		return dist, true
	}
}

// associate resolves gated pairs best-first into a detection-to-track
// assignment. Ties on cost prefer the higher-confidence detection,
// then the earliest-created track, then the lowest track ID so the
// result never depends on map iteration order. Returns a slice indexed
// by detection: the matched track ID, or 0 when unmatched. Caller
// holds the tracker lock.
func (t *Tracker) associate(dets []vision.Detection) []uint64 {
	assigned := make([]uint64, len(dets))
	cands := t.buildCandidates(dets)
	if len(cands) == 0 {
		return assigned
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		if a.detConf != b.detConf {
			return a.detConf > b.detConf
		}
		if a.trackAge != b.trackAge {
			return a.trackAge < b.trackAge
		}
		return a.trackID < b.trackID
	})

	usedTrack := make(map[uint64]bool, len(cands))
	usedDet := make(map[int]bool, len(dets))
	for _, c := range cands {
		if usedTrack[c.trackID] || usedDet[c.detIdx] {
			continue
		}
		usedTrack[c.trackID] = true
		usedDet[c.detIdx] = true
		assigned[c.detIdx] = c.trackID
	}
	return assigned
}
