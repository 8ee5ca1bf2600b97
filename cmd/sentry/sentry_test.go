package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/notify"
	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/detect"
)

func TestLoadTuningDefaults(t *testing.T) {
	*configFile = ""
	cfg := loadTuning()
	assert.Equal(t, 90, cfg.GetRingBufferCapacity())
	assert.Equal(t, 3, cfg.GetAnalyticsStride())
	require.NoError(t, cfg.Validate())
}

func TestBuildSourceSynthetic(t *testing.T) {
	*sourceKind = "synthetic"
	*frameWidth = 64
	*frameHeight = 48
	*frameEvery = time.Millisecond

	src := buildSource()
	require.NotNil(t, src)
	defer src.Close()

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)
}

func TestBuildNotifierLogOnly(t *testing.T) {
	*webhookURL = ""
	n, closeFn := buildNotifier()
	defer closeFn()

	multi, ok := n.(notify.MultiNotifier)
	require.True(t, ok)
	assert.Len(t, multi, 1)
}

func TestBuildStagesWithoutDetector(t *testing.T) {
	*detectorURL = ""
	sec, ana := buildStages(detect.StageConfig{ConfidenceThreshold: 0.5}, nil)
	require.NotNil(t, sec)
	require.NotNil(t, ana)
	assert.NotSame(t, sec, ana, "pipelines must not share stage state")

	frame := &vision.Frame{Seq: 1, Timestamp: time.Now(), Width: 4, Height: 4,
		Data: make([]byte, 16), Format: vision.FormatGray8}
	analysis, err := sec.Process(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, analysis.Detections)
	assert.False(t, analysis.Degraded)
}
