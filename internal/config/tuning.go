package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for everything else. The
// configuration is immutable for the lifetime of a pipeline run.
type TuningConfig struct {
	// Detection params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	FaceMatchThreshold  *float64 `json:"face_match_threshold,omitempty"`
	DetectTimeoutMs     *int     `json:"detect_timeout_ms,omitempty"`

	// Tracker params
	AssociationMode    *string  `json:"association_mode,omitempty"` // "centroid" or "iou"
	MaxMatchDistancePx *float64 `json:"max_match_distance_px,omitempty"`
	IoUThreshold       *float64 `json:"iou_threshold,omitempty"`
	TrackMissLimit     *int     `json:"track_miss_limit,omitempty"`
	MaxTracks          *int     `json:"max_tracks,omitempty"`
	MaxTrackHistory    *int     `json:"max_track_history,omitempty"`
	RetiredTrackGrace  *string  `json:"retired_track_grace,omitempty"` // duration string like "30s"

	// Rule params
	MotionThresholdPct              *float64 `json:"motion_threshold_pct,omitempty"`
	RestrictedClasses               []string `json:"restricted_classes,omitempty"`
	AllowedHours                    *string  `json:"allowed_hours,omitempty"` // "HH:MM-HH:MM"
	MotionCooldownSeconds           *float64 `json:"motion_cooldown_seconds,omitempty"`
	UnknownFaceCooldownSeconds      *float64 `json:"unknown_face_cooldown_seconds,omitempty"`
	RestrictedObjectCooldownSeconds *float64 `json:"restricted_object_cooldown_seconds,omitempty"`
	AfterHoursCooldownSeconds       *float64 `json:"after_hours_cooldown_seconds,omitempty"`

	// Analytics params
	HeatmapDecayRate       *float64 `json:"heatmap_decay_rate,omitempty"`
	HeatmapGridW           *int     `json:"heatmap_grid_w,omitempty"`
	HeatmapGridH           *int     `json:"heatmap_grid_h,omitempty"`
	AnalyticsFlushInterval *string  `json:"analytics_flush_interval,omitempty"` // duration string like "60s"
	AnalyticsFlushFrames   *int     `json:"analytics_flush_frames,omitempty"`   // 0 disables frame-count flushing
	AnalyticsStride        *int     `json:"analytics_stride,omitempty"`

	// Frame ring params
	RingBufferCapacity *int `json:"ring_buffer_capacity,omitempty"`

	// Incident clip params
	ClipDir             *string  `json:"clip_dir,omitempty"`
	IncidentPreSeconds  *float64 `json:"incident_pre_seconds,omitempty"`
	IncidentPostSeconds *float64 `json:"incident_post_seconds,omitempty"`
	ClipMaxFrames       *int     `json:"clip_max_frames,omitempty"`
	IncidentMaxInflight *int     `json:"incident_max_inflight,omitempty"`
	ClipMinSeverity     *string  `json:"clip_min_severity,omitempty"`

	// Persistence params
	SinkQueueSize *int `json:"sink_queue_size,omitempty"`
	RetentionDays *int `json:"retention_days,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with its default value. This mirrors config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ConfidenceThreshold: ptrFloat64(0.5),
		FaceMatchThreshold:  ptrFloat64(0.6),
		DetectTimeoutMs:     ptrInt(200),

		AssociationMode:    ptrString("centroid"),
		MaxMatchDistancePx: ptrFloat64(50),
		IoUThreshold:       ptrFloat64(0.45),
		TrackMissLimit:     ptrInt(10),
		MaxTracks:          ptrInt(256),
		MaxTrackHistory:    ptrInt(64),
		RetiredTrackGrace:  ptrString("30s"),

		MotionThresholdPct:              ptrFloat64(5.0),
		RestrictedClasses:               []string{"knife", "gun"},
		AllowedHours:                    ptrString("07:00-19:00"),
		MotionCooldownSeconds:           ptrFloat64(30),
		UnknownFaceCooldownSeconds:      ptrFloat64(60),
		RestrictedObjectCooldownSeconds: ptrFloat64(60),
		AfterHoursCooldownSeconds:       ptrFloat64(300),

		HeatmapDecayRate:       ptrFloat64(0.95),
		HeatmapGridW:           ptrInt(64),
		HeatmapGridH:           ptrInt(48),
		AnalyticsFlushInterval: ptrString("60s"),
		AnalyticsFlushFrames:   ptrInt(0),
		AnalyticsStride:        ptrInt(3),

		RingBufferCapacity: ptrInt(90),

		ClipDir:             ptrString("clips"),
		IncidentPreSeconds:  ptrFloat64(5),
		IncidentPostSeconds: ptrFloat64(5),
		ClipMaxFrames:       ptrInt(300),
		IncidentMaxInflight: ptrInt(2),
		ClipMinSeverity:     ptrString("critical"),

		SinkQueueSize: ptrInt(64),
		RetentionDays: ptrInt(30),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/vision/track/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.FaceMatchThreshold != nil && *c.FaceMatchThreshold < 0 {
		return fmt.Errorf("face_match_threshold must be non-negative, got %f", *c.FaceMatchThreshold)
	}
	if c.IoUThreshold != nil {
		if *c.IoUThreshold < 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be between 0 and 1, got %f", *c.IoUThreshold)
		}
	}
	if c.AssociationMode != nil {
		if *c.AssociationMode != "centroid" && *c.AssociationMode != "iou" {
			return fmt.Errorf("association_mode must be \"centroid\" or \"iou\", got %q", *c.AssociationMode)
		}
	}
	if c.TrackMissLimit != nil && *c.TrackMissLimit < 1 {
		return fmt.Errorf("track_miss_limit must be at least 1, got %d", *c.TrackMissLimit)
	}
	if c.HeatmapDecayRate != nil {
		if *c.HeatmapDecayRate <= 0 || *c.HeatmapDecayRate >= 1 {
			return fmt.Errorf("heatmap_decay_rate must be between 0 and 1 exclusive, got %f", *c.HeatmapDecayRate)
		}
	}
	if c.RingBufferCapacity != nil && *c.RingBufferCapacity < 1 {
		return fmt.Errorf("ring_buffer_capacity must be at least 1, got %d", *c.RingBufferCapacity)
	}
	if c.AnalyticsStride != nil && *c.AnalyticsStride < 0 {
		return fmt.Errorf("analytics_stride must be non-negative, got %d", *c.AnalyticsStride)
	}

	// Validate duration strings can be parsed if set
	if c.AnalyticsFlushInterval != nil && *c.AnalyticsFlushInterval != "" {
		if _, err := time.ParseDuration(*c.AnalyticsFlushInterval); err != nil {
			return fmt.Errorf("invalid analytics_flush_interval '%s': %w", *c.AnalyticsFlushInterval, err)
		}
	}
	if c.RetiredTrackGrace != nil && *c.RetiredTrackGrace != "" {
		if _, err := time.ParseDuration(*c.RetiredTrackGrace); err != nil {
			return fmt.Errorf("invalid retired_track_grace '%s': %w", *c.RetiredTrackGrace, err)
		}
	}

	// Validate allowed_hours is "HH:MM-HH:MM" if set
	if c.AllowedHours != nil && *c.AllowedHours != "" {
		var sh, sm, eh, em int
		if _, err := fmt.Sscanf(*c.AllowedHours, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
			return fmt.Errorf("invalid allowed_hours '%s' (want HH:MM-HH:MM): %w", *c.AllowedHours, err)
		}
	}

	if c.ClipMinSeverity != nil {
		switch *c.ClipMinSeverity {
		case "critical", "high", "medium", "info":
		default:
			return fmt.Errorf("clip_min_severity must be one of critical/high/medium/info, got %q", *c.ClipMinSeverity)
		}
	}

	return nil
}

// durationOf parses a duration string field, falling back to def when
// the field is unset or unparseable.
func durationOf(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// secondsOf converts a seconds field to a duration, falling back to def.
func secondsOf(v *float64, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return time.Duration(*v * float64(time.Second))
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5 // default
	}
	return *c.ConfidenceThreshold
}

// GetFaceMatchThreshold returns the face_match_threshold value or the
// default. Published sources disagree on the right value (0.5 vs 0.6),
// so it stays overridable and the default follows the reference
// deployments.
func (c *TuningConfig) GetFaceMatchThreshold() float64 {
	if c.FaceMatchThreshold == nil {
		return 0.6 // default
	}
	return *c.FaceMatchThreshold
}

// GetDetectTimeout returns the per-frame detection budget.
func (c *TuningConfig) GetDetectTimeout() time.Duration {
	if c.DetectTimeoutMs == nil || *c.DetectTimeoutMs <= 0 {
		return 200 * time.Millisecond // default
	}
	return time.Duration(*c.DetectTimeoutMs) * time.Millisecond
}

// GetAssociationMode returns the association_mode value or the default.
func (c *TuningConfig) GetAssociationMode() string {
	if c.AssociationMode == nil {
		return "centroid" // default
	}
	return *c.AssociationMode
}

// GetMaxMatchDistancePx returns the max_match_distance_px value or the default.
func (c *TuningConfig) GetMaxMatchDistancePx() float64 {
	if c.MaxMatchDistancePx == nil {
		return 50 // default
	}
	return *c.MaxMatchDistancePx
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.45 // default
	}
	return *c.IoUThreshold
}

// GetTrackMissLimit returns the track_miss_limit value or the default.
func (c *TuningConfig) GetTrackMissLimit() int {
	if c.TrackMissLimit == nil {
		return 10 // default
	}
	return *c.TrackMissLimit
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 256 // default
	}
	return *c.MaxTracks
}

// GetMaxTrackHistoryLength returns the max_track_history value or the default.
func (c *TuningConfig) GetMaxTrackHistoryLength() int {
	if c.MaxTrackHistory == nil {
		return 64 // default
	}
	return *c.MaxTrackHistory
}

// GetRetiredTrackGracePeriod returns how long retired tracks stay queryable.
func (c *TuningConfig) GetRetiredTrackGracePeriod() time.Duration {
	return durationOf(c.RetiredTrackGrace, 30*time.Second)
}

// GetMotionThresholdPct returns the motion_threshold_pct value or the default.
func (c *TuningConfig) GetMotionThresholdPct() float64 {
	if c.MotionThresholdPct == nil {
		return 5.0 // default
	}
	return *c.MotionThresholdPct
}

// GetRestrictedClasses returns the restricted_classes value or the default.
func (c *TuningConfig) GetRestrictedClasses() []string {
	if c.RestrictedClasses == nil {
		return []string{"knife", "gun"} // default
	}
	return c.RestrictedClasses
}

// GetAllowedHours returns the allowed_hours window or the default.
func (c *TuningConfig) GetAllowedHours() string {
	if c.AllowedHours == nil || *c.AllowedHours == "" {
		return "07:00-19:00" // default
	}
	return *c.AllowedHours
}

// GetMotionCooldown returns the motion rule cooldown.
func (c *TuningConfig) GetMotionCooldown() time.Duration {
	return secondsOf(c.MotionCooldownSeconds, 30*time.Second)
}

// GetUnknownFaceCooldown returns the unknown_face rule cooldown.
func (c *TuningConfig) GetUnknownFaceCooldown() time.Duration {
	return secondsOf(c.UnknownFaceCooldownSeconds, 60*time.Second)
}

// GetRestrictedObjectCooldown returns the restricted_object rule cooldown.
func (c *TuningConfig) GetRestrictedObjectCooldown() time.Duration {
	return secondsOf(c.RestrictedObjectCooldownSeconds, 60*time.Second)
}

// GetAfterHoursCooldown returns the after_hours rule cooldown.
func (c *TuningConfig) GetAfterHoursCooldown() time.Duration {
	return secondsOf(c.AfterHoursCooldownSeconds, 300*time.Second)
}

// GetHeatmapDecayRate returns the heatmap_decay_rate value or the default.
func (c *TuningConfig) GetHeatmapDecayRate() float64 {
	if c.HeatmapDecayRate == nil {
		return 0.95 // default
	}
	return *c.HeatmapDecayRate
}

// GetHeatmapGridW returns the heatmap_grid_w value or the default.
func (c *TuningConfig) GetHeatmapGridW() int {
	if c.HeatmapGridW == nil {
		return 64 // default
	}
	return *c.HeatmapGridW
}

// GetHeatmapGridH returns the heatmap_grid_h value or the default.
func (c *TuningConfig) GetHeatmapGridH() int {
	if c.HeatmapGridH == nil {
		return 48 // default
	}
	return *c.HeatmapGridH
}

// GetAnalyticsFlushInterval parses and returns the analytics flush interval.
func (c *TuningConfig) GetAnalyticsFlushInterval() time.Duration {
	return durationOf(c.AnalyticsFlushInterval, 60*time.Second)
}

// GetAnalyticsFlushFrames returns the frame-count flush boundary; 0
// means wall-clock flushing only.
func (c *TuningConfig) GetAnalyticsFlushFrames() int {
	if c.AnalyticsFlushFrames == nil {
		return 0 // default: interval flushing
	}
	return *c.AnalyticsFlushFrames
}

// GetAnalyticsStride returns the analytics_stride value or the default.
func (c *TuningConfig) GetAnalyticsStride() int {
	if c.AnalyticsStride == nil {
		return 3 // default
	}
	return *c.AnalyticsStride
}

// GetRingBufferCapacity returns the ring_buffer_capacity value or the default.
func (c *TuningConfig) GetRingBufferCapacity() int {
	if c.RingBufferCapacity == nil {
		return 90 // default: ~3s at 30fps
	}
	return *c.RingBufferCapacity
}

// GetClipDir returns the clip_dir value or the default.
func (c *TuningConfig) GetClipDir() string {
	if c.ClipDir == nil || *c.ClipDir == "" {
		return "clips" // default
	}
	return *c.ClipDir
}

// GetClipPreRoll returns the incident pre-event window.
func (c *TuningConfig) GetClipPreRoll() time.Duration {
	return secondsOf(c.IncidentPreSeconds, 5*time.Second)
}

// GetClipPostRoll returns the incident post-event window.
func (c *TuningConfig) GetClipPostRoll() time.Duration {
	return secondsOf(c.IncidentPostSeconds, 5*time.Second)
}

// GetClipMaxFrames returns the clip_max_frames value or the default.
func (c *TuningConfig) GetClipMaxFrames() int {
	if c.ClipMaxFrames == nil {
		return 300 // default
	}
	return *c.ClipMaxFrames
}

// GetClipMaxInFlight returns the incident_max_inflight value or the default.
func (c *TuningConfig) GetClipMaxInFlight() int {
	if c.IncidentMaxInflight == nil {
		return 2 // default
	}
	return *c.IncidentMaxInflight
}

// GetClipMinSeverity returns the clip_min_severity value or the default.
func (c *TuningConfig) GetClipMinSeverity() string {
	if c.ClipMinSeverity == nil || *c.ClipMinSeverity == "" {
		return "critical" // default
	}
	return *c.ClipMinSeverity
}

// GetSinkQueueSize returns the sink_queue_size value or the default.
func (c *TuningConfig) GetSinkQueueSize() int {
	if c.SinkQueueSize == nil {
		return 64 // default
	}
	return *c.SinkQueueSize
}

// GetRetentionDays returns the retention_days value or the default.
func (c *TuningConfig) GetRetentionDays() int {
	if c.RetentionDays == nil {
		return 30 // default
	}
	return *c.RetentionDays
}
