// Package faces holds the enrolled-identity store used for face
// matching. Identities are embedding vectors with a label; matching is
// nearest-neighbour by Euclidean distance, with thresholding left to
// the caller so one config knob covers every store implementation.
package faces

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// Identity is one enrolled face.
type Identity struct {
	Name       string    `json:"name"`
	Embedding  []float32 `json:"-"`
	EnrolledAt time.Time `json:"enrolled_at"`
	Samples    int       `json:"samples"`
}

// EuclideanDistance returns the L2 distance between two embeddings.
func EuclideanDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding length mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum)), nil
}

// MemoryStore is an in-memory KnownFaceStore. Enrolling the same name
// again averages the stored embedding with the new sample, so repeated
// enrollments refine the identity rather than replace it.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*Identity
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*Identity)}
}

// Enroll adds or refines an identity.
func (s *MemoryStore) Enroll(name string, embedding []float32) error {
	if name == "" || name == vision.UnknownIdentity {
		return fmt.Errorf("invalid identity name %q", name)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byKey[name]
	if !ok {
		stored := make([]float32, len(embedding))
		copy(stored, embedding)
		s.byKey[name] = &Identity{
			Name:       name,
			Embedding:  stored,
			EnrolledAt: time.Now(),
			Samples:    1,
		}
		return nil
	}
	if len(existing.Embedding) != len(embedding) {
		return fmt.Errorf("embedding length %d does not match enrolled %q (%d)", len(embedding), name, len(existing.Embedding))
	}
	n := float32(existing.Samples)
	for i := range existing.Embedding {
		existing.Embedding[i] = (existing.Embedding[i]*n + embedding[i]) / (n + 1)
	}
	existing.Samples++
	return nil
}

// Match implements vision.KnownFaceStore: nearest enrolled identity by
// Euclidean distance. An empty store returns vision.ErrNoKnownFaces.
func (s *MemoryStore) Match(ctx context.Context, embedding []float32) (string, float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byKey) == 0 {
		return "", 0, vision.ErrNoKnownFaces
	}

	best := ""
	bestDist := float32(math.MaxFloat32)
	for name, id := range s.byKey {
		d, err := EuclideanDistance(embedding, id.Embedding)
		if err != nil {
			return "", 0, fmt.Errorf("match against %q: %w", name, err)
		}
		if d < bestDist || (d == bestDist && name < best) {
			best = name
			bestDist = d
		}
	}
	return best, bestDist, nil
}

// Remove deletes an identity; removing an unknown name is a no-op.
func (s *MemoryStore) Remove(name string) {
	s.mu.Lock()
	delete(s.byKey, name)
	s.mu.Unlock()
}

// Identities lists enrolled identities sorted by name, without the
// embedding vectors.
func (s *MemoryStore) Identities() []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Identity, 0, len(s.byKey))
	for _, id := range s.byKey {
		out = append(out, Identity{Name: id.Name, EnrolledAt: id.EnrolledAt, Samples: id.Samples})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of enrolled identities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}
