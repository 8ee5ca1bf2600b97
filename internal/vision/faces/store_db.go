package faces

import (
	"context"
	"fmt"
	"time"

	"github.com/Gift01-source/Camera/internal/db"
	"github.com/Gift01-source/Camera/internal/vision"
)

// PersistentStore is a KnownFaceStore backed by the sqlite face table.
// Matching runs against an in-memory mirror loaded at construction;
// enrollments and removals write through to the database first so a
// restart sees the same identities.
type PersistentStore struct {
	mem *MemoryStore
	db  *db.DB
}

// NewPersistentStore loads enrolled faces from the database and
// returns a store ready for matching.
func NewPersistentStore(ctx context.Context, database *db.DB) (*PersistentStore, error) {
	s := &PersistentStore{mem: NewMemoryStore(), db: database}

	samples, err := database.FaceSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading enrolled faces: %w", err)
	}
	for _, sm := range samples {
		if err := s.mem.Enroll(sm.Identity, sm.Embedding); err != nil {
			return nil, fmt.Errorf("restoring identity %q: %w", sm.Identity, err)
		}
	}
	return s, nil
}

// Match delegates to the in-memory mirror.
func (s *PersistentStore) Match(ctx context.Context, embedding []float32) (string, float32, error) {
	return s.mem.Match(ctx, embedding)
}

// Enroll persists a new sample and refines the in-memory identity.
func (s *PersistentStore) Enroll(name string, embedding []float32) error {
	if err := s.mem.Enroll(name, embedding); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.EnrollFace(ctx, name, embedding, time.Now()); err != nil {
		return fmt.Errorf("persisting enrollment for %q: %w", name, err)
	}
	return nil
}

// Remove deletes an identity everywhere.
func (s *PersistentStore) Remove(name string) error {
	s.mem.Remove(name)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.DeleteFace(ctx, name); err != nil {
		return fmt.Errorf("deleting identity %q: %w", name, err)
	}
	return nil
}

// Identities lists enrolled identities from the in-memory mirror.
func (s *PersistentStore) Identities() []Identity {
	return s.mem.Identities()
}

// Len reports the number of enrolled identities.
func (s *PersistentStore) Len() int {
	return s.mem.Len()
}

var _ vision.KnownFaceStore = (*PersistentStore)(nil)
