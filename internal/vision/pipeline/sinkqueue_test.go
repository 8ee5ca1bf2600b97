package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/vision"
)

func numberedEvent(i int) *vision.Event {
	return &vision.Event{
		ID:        fmt.Sprintf("ev-%d", i),
		Type:      vision.EventMotion,
		Severity:  vision.SeverityMedium,
		Timestamp: pipeBase.Add(time.Duration(i) * time.Second),
	}
}

func TestSinkQueuePersistsInOrder(t *testing.T) {
	t.Parallel()

	events := &memEventSink{}
	samples := &memSampleSink{}
	q := NewSinkQueue(8, events, samples)
	q.Start()

	for i := 0; i < 3; i++ {
		q.EnqueueEvent(numberedEvent(i))
	}
	q.EnqueueSample(&vision.AnalyticsSample{WindowStart: pipeBase, WindowEnd: pipeBase.Add(time.Minute)})
	q.EnqueueSample(&vision.AnalyticsSample{WindowStart: pipeBase.Add(time.Minute), WindowEnd: pipeBase.Add(2 * time.Minute)})
	q.Close()

	got := events.all()
	require.Len(t, got, 3)
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), ev.ID)
	}
	require.Len(t, samples.all(), 2)

	st := q.Stats()
	assert.Equal(t, uint64(3), st.EnqueuedEvents)
	assert.Equal(t, uint64(2), st.EnqueuedSamples)
	assert.Zero(t, st.DroppedEvents)
	assert.Zero(t, st.PersistErrors)
}

func TestSinkQueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	events := &memEventSink{}
	q := NewSinkQueue(2, events, nil)
	// No worker yet, so the buffer fills deterministically.
	for i := 0; i < 4; i++ {
		q.EnqueueEvent(numberedEvent(i))
	}

	st := q.Stats()
	assert.Equal(t, uint64(4), st.EnqueuedEvents)
	assert.Equal(t, uint64(2), st.DroppedEvents)
	assert.Equal(t, 2, st.PendingEvents)

	q.Start()
	q.Close()

	got := events.all()
	require.Len(t, got, 2)
	assert.Equal(t, "ev-2", got[0].ID)
	assert.Equal(t, "ev-3", got[1].ID)
}

func TestSinkQueueCountsPersistErrors(t *testing.T) {
	t.Parallel()

	events := &memEventSink{failWith: errors.New("disk full")}
	q := NewSinkQueue(8, events, nil)
	q.Start()
	q.EnqueueEvent(numberedEvent(0))
	q.EnqueueEvent(numberedEvent(1))
	q.Close()

	assert.Empty(t, events.all())
	st := q.Stats()
	assert.Equal(t, uint64(2), st.EnqueuedEvents)
	assert.Equal(t, uint64(2), st.PersistErrors)
	assert.Zero(t, st.PendingEvents)
}

func TestSinkQueueNilSinksDiscard(t *testing.T) {
	t.Parallel()

	q := NewSinkQueue(4, nil, nil)
	q.Start()
	q.EnqueueEvent(numberedEvent(0))
	q.EnqueueSample(&vision.AnalyticsSample{})
	q.Close()

	st := q.Stats()
	assert.Zero(t, st.EnqueuedEvents)
	assert.Zero(t, st.EnqueuedSamples)
	assert.Zero(t, st.PendingEvents)
	assert.Zero(t, st.PendingSamples)
}

func TestSinkQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewSinkQueue(4, &memEventSink{}, nil)
	q.Close() // never started, nothing to stop
	q.Start()
	q.EnqueueEvent(numberedEvent(0))
	q.Close()
	q.Close()
}
