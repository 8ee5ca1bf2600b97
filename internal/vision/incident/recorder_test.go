package incident

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/fsutil"
	"github.com/Gift01-source/Camera/internal/vision"
)

var testBase = time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)

func grayFrame(ts time.Time) *vision.Frame {
	return &vision.Frame{
		Timestamp: ts,
		Width:     4,
		Height:    3,
		Format:    vision.FormatGray8,
		Data:      make([]byte, 12),
	}
}

func testRecorder(t *testing.T, cfg RecorderConfig, ringCap int) (*Recorder, *vision.Dispatcher, *fsutil.MemoryFileSystem) {
	t.Helper()
	ring, err := vision.NewFrameRing(ringCap)
	require.NoError(t, err)
	d := vision.NewDispatcher(ring)
	mfs := fsutil.NewMemoryFileSystem()
	if cfg.Dir == "" {
		cfg.Dir = "/clips"
	}
	return NewRecorder(cfg, d, mfs), d, mfs
}

func highEvent(ts time.Time, seq uint64) *vision.Event {
	return &vision.Event{
		ID:        "ev-" + ts.Format("150405.000"),
		Type:      vision.EventRestrictedObject,
		Severity:  vision.SeverityHigh,
		Timestamp: ts,
		FrameSeq:  seq,
	}
}

func TestClipCapturesPrePostWindow(t *testing.T) {
	t.Parallel()
	rec, d, mfs := testRecorder(t, RecorderConfig{
		PreRoll:     2 * time.Second,
		PostRoll:    time.Second,
		MaxInFlight: 2,
	}, 64)

	var gotClip *vision.Clip
	var gotEvent *vision.Event
	rec.OnComplete(func(c *vision.Clip, ev *vision.Event) {
		gotClip = c
		gotEvent = ev
	})

	for i := 0; i < 5; i++ {
		d.Publish(grayFrame(testBase.Add(time.Duration(i) * 500 * time.Millisecond)))
	}

	ev := highEvent(testBase.Add(2*time.Second), 4)
	clip := rec.Start(context.Background(), ev)
	require.NotNil(t, clip)

	// Post-roll frames; the one past the deadline ends the clip.
	d.Publish(grayFrame(testBase.Add(2500 * time.Millisecond)))
	d.Publish(grayFrame(testBase.Add(3 * time.Second)))
	d.Publish(grayFrame(testBase.Add(3500 * time.Millisecond)))

	rec.Close()

	got, err := rec.Manifest(clip.ID)
	require.NoError(t, err)
	assert.Equal(t, clip.ID, got.ID)
	assert.Equal(t, ev.ID, got.EventID)
	assert.Equal(t, 7, got.FrameCount, "5 pre-roll + 2 post-roll frames")
	assert.Equal(t, uint64(0), got.StartSeq)
	assert.Equal(t, uint64(6), got.EndSeq)
	assert.True(t, got.Start.Equal(testBase))
	assert.True(t, got.End.Equal(testBase.Add(3*time.Second)))
	assert.False(t, got.Partial)

	names, err := rec.ListFrames(clip.ID)
	require.NoError(t, err)
	require.Len(t, names, 7)
	assert.Equal(t, "000001.pgm", names[0])
	assert.Equal(t, "000007.pgm", names[6])

	path, err := rec.FramePath(clip.ID, names[0])
	require.NoError(t, err)
	data, err := mfs.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "P5\n4 3\n255\n"))
	assert.Len(t, data, len("P5\n4 3\n255\n")+12)

	require.NotNil(t, gotClip)
	assert.Equal(t, clip.ID, gotClip.ID)
	assert.Equal(t, ev.ID, gotEvent.ID)

	// The per-clip cursor unsubscribes when the recording finishes.
	assert.Empty(t, d.Ring().Stats().Cursors)

	stats := rec.Stats()
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(7), stats.FramesWritten)
	assert.Equal(t, uint64(0), stats.WriteErrors)
	assert.Equal(t, 0, stats.InFlight)
}

func TestClipPartialWhenPreRollEvicted(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{
		PreRoll:     10 * time.Second,
		MaxInFlight: 1,
	}, 4)

	// Ten frames through a four-slot ring: only seqs 6..9 survive, so
	// the requested pre-roll cannot be fully honoured.
	for i := 0; i < 10; i++ {
		d.Publish(grayFrame(testBase.Add(time.Duration(i) * time.Second)))
	}

	clip := rec.Start(context.Background(), highEvent(testBase.Add(9*time.Second), 9))
	require.NotNil(t, clip)

	d.Publish(grayFrame(testBase.Add(9500 * time.Millisecond)))
	rec.Close()

	got, err := rec.Manifest(clip.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.FrameCount)
	assert.Equal(t, uint64(6), got.StartSeq)
	assert.Equal(t, uint64(9), got.EndSeq)
	assert.True(t, got.Partial, "evicted pre-roll must mark the clip partial")
}

func TestClipPartialWhenRingEmpty(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{
		PreRoll:     time.Second,
		PostRoll:    time.Second,
		MaxInFlight: 1,
	}, 16)

	// Nothing published yet, so there is no pre-roll to reach back for.
	// The post-roll completes normally; the missing pre-roll alone must
	// mark the clip partial.
	clip := rec.Start(context.Background(), highEvent(testBase, 0))
	require.NotNil(t, clip)

	d.Publish(grayFrame(testBase.Add(500 * time.Millisecond)))
	d.Publish(grayFrame(testBase.Add(2 * time.Second))) // past the deadline, ends the clip
	rec.Close()

	got, err := rec.Manifest(clip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FrameCount)
	assert.True(t, got.Partial, "an empty ring cannot honour the requested pre-roll")
}

func TestClipPartialOnShutdown(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{
		PreRoll:     5 * time.Second,
		PostRoll:    5 * time.Second,
		MaxInFlight: 1,
	}, 16)

	d.Publish(grayFrame(testBase))
	d.Publish(grayFrame(testBase.Add(time.Second)))

	clip := rec.Start(context.Background(), highEvent(testBase.Add(time.Second), 1))
	require.NotNil(t, clip)

	d.Close()
	rec.Close()

	got, err := rec.Manifest(clip.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FrameCount)
	assert.True(t, got.Partial, "shutdown mid post-roll must mark the clip partial")
}

func TestClipWithNoFrames(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{
		PreRoll:     time.Second,
		MaxInFlight: 1,
	}, 16)
	d.Close()

	clip := rec.Start(context.Background(), highEvent(testBase, 0))
	require.NotNil(t, clip)
	rec.Close()

	got, err := rec.Manifest(clip.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FrameCount)
	assert.True(t, got.Partial)
}

func TestRecorderInFlightLimit(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{
		PreRoll:     time.Second,
		PostRoll:    5 * time.Second,
		MaxInFlight: 1,
	}, 16)

	d.Publish(grayFrame(testBase))

	first := rec.Start(context.Background(), highEvent(testBase, 0))
	require.NotNil(t, first)

	// The first recording is still waiting out its post-roll.
	second := rec.Start(context.Background(), highEvent(testBase, 0))
	assert.Nil(t, second)

	d.Close()
	rec.Close()

	stats := rec.Stats()
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(1), stats.SkippedBusy)
}

func TestRecorderSeverityGate(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{MaxInFlight: 1}, 16)

	info := highEvent(testBase, 0)
	info.Severity = vision.SeverityInfo
	assert.False(t, rec.Wants(info))
	assert.Nil(t, rec.Start(context.Background(), info))

	critical := highEvent(testBase, 0)
	critical.Severity = vision.SeverityCritical
	assert.True(t, rec.Wants(critical))
	clip := rec.Start(context.Background(), critical)
	require.NotNil(t, clip)
	d.Close()
	rec.Close()

	stats := rec.Stats()
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(0), stats.SkippedBusy, "severity rejections are not busy skips")
}

func TestClipFrameCap(t *testing.T) {
	t.Parallel()
	rec, d, _ := testRecorder(t, RecorderConfig{
		PreRoll:     10 * time.Second,
		PostRoll:    time.Second,
		MaxFrames:   4,
		MaxInFlight: 1,
	}, 64)

	for i := 0; i < 5; i++ {
		d.Publish(grayFrame(testBase.Add(time.Duration(i) * time.Second)))
	}

	clip := rec.Start(context.Background(), highEvent(testBase.Add(4*time.Second), 4))
	require.NotNil(t, clip)

	d.Publish(grayFrame(testBase.Add(4500 * time.Millisecond)))
	d.Publish(grayFrame(testBase.Add(5 * time.Second)))
	d.Publish(grayFrame(testBase.Add(5500 * time.Millisecond)))
	rec.Close()

	got, err := rec.Manifest(clip.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.FrameCount, "half the cap for pre-roll, half for post-roll")
	assert.Equal(t, uint64(3), got.StartSeq)
	assert.Equal(t, uint64(6), got.EndSeq)
	assert.False(t, got.Partial, "hitting the configured cap is not a capture failure")
}

func TestClipPathsAreConfined(t *testing.T) {
	t.Parallel()
	rec, d, mfs := testRecorder(t, RecorderConfig{MaxInFlight: 1}, 16)

	d.Publish(grayFrame(testBase))
	clip := rec.Start(context.Background(), highEvent(testBase, 0))
	require.NotNil(t, clip)
	d.Close()
	rec.Close()

	_, err := rec.FramePath(clip.ID, "../clip.json")
	assert.Error(t, err)
	_, err = rec.FramePath("..", "clip.json")
	assert.Error(t, err)
	_, err = rec.Manifest("../" + clip.ID)
	assert.Error(t, err)
	assert.Error(t, rec.Remove("../etc"))

	require.NoError(t, rec.Remove(clip.ID))
	assert.False(t, mfs.Exists("/clips/"+clip.ID))
	_, err = rec.Manifest(clip.ID)
	assert.Error(t, err)
}
