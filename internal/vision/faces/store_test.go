package faces

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/vision"
)

func TestMemoryStoreMatch(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.NoError(t, s.Enroll("alice", []float32{0, 0, 0}))
	require.NoError(t, s.Enroll("bob", []float32{10, 10, 10}))

	name, dist, err := s.Match(context.Background(), []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.InDelta(t, 1.0, float64(dist), 0.001)

	name, _, err = s.Match(context.Background(), []float32{9, 10, 10})
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
}

func TestMemoryStoreEmpty(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	_, _, err := s.Match(context.Background(), []float32{1, 2, 3})
	assert.ErrorIs(t, err, vision.ErrNoKnownFaces)
}

func TestEnrollValidation(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	assert.Error(t, s.Enroll("", []float32{1}))
	assert.Error(t, s.Enroll(vision.UnknownIdentity, []float32{1}))
	assert.Error(t, s.Enroll("alice", nil))

	require.NoError(t, s.Enroll("alice", []float32{1, 2}))
	assert.Error(t, s.Enroll("alice", []float32{1, 2, 3}), "length change must be rejected")
}

func TestEnrollAveragesRepeatSamples(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.NoError(t, s.Enroll("alice", []float32{0, 0}))
	require.NoError(t, s.Enroll("alice", []float32{2, 2}))

	// Stored embedding is now (1, 1): equidistant probes resolve to it.
	_, dist, err := s.Match(context.Background(), []float32{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, float64(dist), 0.001)

	ids := s.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 2, ids[0].Samples)
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.NoError(t, s.Enroll("alice", []float32{1}))
	s.Remove("alice")
	s.Remove("never-enrolled")
	assert.Zero(t, s.Len())
}

func TestMismatchedProbeLength(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.NoError(t, s.Enroll("alice", []float32{1, 2, 3}))
	_, _, err := s.Match(context.Background(), []float32{1})
	assert.Error(t, err)
}
