// Package incident extracts short frame clips around high-severity
// events. The recorder grabs the pre-roll from the frame ring, then
// follows the live stream for the post-roll, and writes the frames as
// numbered image files under a per-clip directory together with a
// clip.json manifest.
package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Gift01-source/Camera/internal/config"
	"github.com/Gift01-source/Camera/internal/fsutil"
	"github.com/Gift01-source/Camera/internal/vision"
)

// postGrace bounds the wall-clock wait for post-roll frames so a clip
// of a stalled source still finishes instead of pinning a slot until
// shutdown.
const postGrace = 3 * time.Second

// RecorderConfig holds clip extraction parameters.
type RecorderConfig struct {
	Dir         string          // root directory for clip storage
	PreRoll     time.Duration   // how far before the event to reach back
	PostRoll    time.Duration   // how far past the event to keep recording
	MaxFrames   int             // total frame cap per clip, 0 for no cap
	MaxInFlight int             // concurrent recordings before new ones are skipped
	MinSeverity vision.Severity // least urgent severity that earns a clip
}

// DefaultRecorderConfig returns recorder configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found — intended for tests and binaries
// that have already validated config availability.
func DefaultRecorderConfig() RecorderConfig {
	cfg := config.MustLoadDefaultConfig()
	return RecorderConfigFromTuning(cfg)
}

// RecorderConfigFromTuning builds a RecorderConfig from a loaded
// TuningConfig. Use this in production code where the TuningConfig is
// already loaded.
func RecorderConfigFromTuning(cfg *config.TuningConfig) RecorderConfig {
	return RecorderConfig{
		Dir:         cfg.GetClipDir(),
		PreRoll:     cfg.GetClipPreRoll(),
		PostRoll:    cfg.GetClipPostRoll(),
		MaxFrames:   cfg.GetClipMaxFrames(),
		MaxInFlight: cfg.GetClipMaxInFlight(),
		MinSeverity: vision.Severity(cfg.GetClipMinSeverity()),
	}
}

// RecorderStats is a point-in-time snapshot of recorder counters.
type RecorderStats struct {
	Started       uint64 `json:"started"`
	Completed     uint64 `json:"completed"`
	SkippedBusy   uint64 `json:"skipped_busy"`
	FramesWritten uint64 `json:"frames_written"`
	WriteErrors   uint64 `json:"write_errors"`
	InFlight      int    `json:"in_flight"`
}

// Recorder writes incident clips. Start never blocks the caller: frame
// collection and file writes run in a background goroutine per clip,
// and the number of concurrent recordings is capped so a burst of
// events degrades to skipped clips rather than unbounded goroutines.
type Recorder struct {
	cfg  RecorderConfig
	disp *vision.Dispatcher
	fs   fsutil.FileSystem

	onComplete func(*vision.Clip, *vision.Event)

	mu       sync.Mutex
	inflight int
	wg       sync.WaitGroup

	started     atomic.Uint64
	completed   atomic.Uint64
	skippedBusy atomic.Uint64
	frames      atomic.Uint64
	writeErrors atomic.Uint64
}

// NewRecorder returns a recorder reading from disp and writing through
// fs. A nil fs selects the real filesystem.
func NewRecorder(cfg RecorderConfig, disp *vision.Dispatcher, fs fsutil.FileSystem) *Recorder {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.PreRoll < 0 {
		cfg.PreRoll = 0
	}
	if cfg.PostRoll < 0 {
		cfg.PostRoll = 0
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = vision.SeverityHigh
	}
	return &Recorder{cfg: cfg, disp: disp, fs: fs}
}

// OnComplete registers a callback invoked once per finished clip, after
// the manifest has been written. Set before the first Start.
func (r *Recorder) OnComplete(fn func(*vision.Clip, *vision.Event)) {
	r.onComplete = fn
}

// Wants reports whether an event's severity qualifies for a clip.
func (r *Recorder) Wants(ev *vision.Event) bool {
	return ev != nil && vision.SeverityAtLeast(ev.Severity, r.cfg.MinSeverity)
}

// Start begins recording a clip around ev and returns the reserved clip
// immediately so the caller can link its ID. Returns nil when the event
// does not qualify or the recorder is already at its in-flight limit;
// the latter is counted as a skip.
func (r *Recorder) Start(ctx context.Context, ev *vision.Event) *vision.Clip {
	if !r.Wants(ev) {
		return nil
	}

	r.mu.Lock()
	if r.inflight >= r.cfg.MaxInFlight {
		r.mu.Unlock()
		r.skippedBusy.Add(1)
		vision.Diagf("clip skipped for event %s: %d recordings already in flight", ev.ID, r.cfg.MaxInFlight)
		return nil
	}
	r.inflight++
	r.mu.Unlock()
	r.started.Add(1)

	clip := &vision.Clip{ID: uuid.NewString(), EventID: ev.ID}
	clip.Dir = filepath.Join(r.cfg.Dir, clip.ID)

	// Subscribe before reading the pre-roll so no frame falls in the gap
	// between snapshot and live tail.
	sub := r.disp.Subscribe("clip-" + clip.ID[:8])
	pre, partial := r.preWindow(ev)

	r.wg.Add(1)
	go r.record(ctx, clip, ev, sub, pre, partial)
	return clip
}

// preWindow selects ring frames inside [event-PreRoll, event+PostRoll].
// The second return is true when ring eviction has already eaten into
// the requested pre-roll.
func (r *Recorder) preWindow(ev *vision.Event) ([]*vision.Frame, bool) {
	held := r.disp.Ring().Snapshot()
	windowStart := ev.Timestamp.Add(-r.cfg.PreRoll)
	deadline := ev.Timestamp.Add(r.cfg.PostRoll)

	var out []*vision.Frame
	for _, f := range held {
		if f.Timestamp.Before(windowStart) || f.Timestamp.After(deadline) {
			continue
		}
		out = append(out, f)
	}

	partial := false
	switch {
	case len(held) == 0:
		// An empty ring cannot supply any pre-roll at all.
		partial = r.cfg.PreRoll > 0
	default:
		oldest := held[0]
		if oldest.Seq > 0 && oldest.Timestamp.After(windowStart) {
			partial = true
		}
	}
	return out, partial
}

func (r *Recorder) record(ctx context.Context, clip *vision.Clip, ev *vision.Event, sub *vision.Subscription, pre []*vision.Frame, partial bool) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()
	defer sub.Cancel()

	if err := fsutil.ValidateWithinDir(clip.Dir, r.cfg.Dir); err != nil {
		r.writeErrors.Add(1)
		vision.Opsf("clip %s rejected: %v", clip.ID, err)
		return
	}
	if err := r.fs.MkdirAll(clip.Dir, 0755); err != nil {
		r.writeErrors.Add(1)
		vision.Opsf("clip %s: creating %s: %v", clip.ID, clip.Dir, err)
		return
	}

	// Leave room in the frame cap for the post-roll.
	maxPre := r.cfg.MaxFrames
	if maxPre > 0 && r.cfg.PostRoll > 0 {
		maxPre /= 2
	}
	if maxPre > 0 && len(pre) > maxPre {
		pre = pre[len(pre)-maxPre:]
	}

	n := 0
	var last uint64
	haveLast := false
	write := func(f *vision.Frame) bool {
		if err := r.writeFrame(clip.Dir, n+1, f); err != nil {
			r.writeErrors.Add(1)
			partial = true
			vision.Opsf("clip %s: %v", clip.ID, err)
			return false
		}
		if n == 0 {
			clip.StartSeq = f.Seq
			clip.Start = f.Timestamp
		}
		clip.EndSeq = f.Seq
		clip.End = f.Timestamp
		last = f.Seq
		haveLast = true
		n++
		return true
	}

	for _, f := range pre {
		if !write(f) {
			break
		}
	}

	// Post-roll: follow the live stream until frame time passes the
	// deadline. The wall-clock timeout covers sources that stop
	// producing frames mid-clip.
	deadline := ev.Timestamp.Add(r.cfg.PostRoll)
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.PostRoll+postGrace)
	for {
		if r.cfg.MaxFrames > 0 && n >= r.cfg.MaxFrames {
			break
		}
		f, err := sub.NextWait(waitCtx)
		if err != nil {
			// Shutdown, cancellation, or a stalled source. The post-roll
			// stops short unless the whole window was already on disk.
			if clip.End.Before(deadline) {
				partial = true
			}
			break
		}
		if haveLast && f.Seq <= last {
			continue
		}
		if f.Timestamp.After(deadline) {
			break
		}
		if !write(f) {
			break
		}
	}
	cancel()

	clip.FrameCount = n
	clip.Partial = partial
	r.frames.Add(uint64(n))

	if data, err := json.MarshalIndent(clip, "", "  "); err == nil {
		if err := r.fs.WriteFile(filepath.Join(clip.Dir, "clip.json"), data, 0644); err != nil {
			r.writeErrors.Add(1)
			vision.Opsf("clip %s: writing manifest: %v", clip.ID, err)
		}
	}

	r.completed.Add(1)
	vision.Diagf("clip %s: %d frames seq %d..%d partial=%v", clip.ID, n, clip.StartSeq, clip.EndSeq, partial)
	if r.onComplete != nil {
		r.onComplete(clip, ev)
	}
}

// writeFrame stores one frame as clips/<id>/NNNNNN.<ext>. Gray frames
// get a binary PGM header so standard image viewers open them; JPEG
// frames are stored as-is.
func (r *Recorder) writeFrame(dir string, n int, f *vision.Frame) error {
	ext, data := frameFile(f)
	name := fmt.Sprintf("%06d%s", n, ext)
	if err := r.fs.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("writing frame %d: %w", f.Seq, err)
	}
	return nil
}

func frameFile(f *vision.Frame) (ext string, data []byte) {
	switch f.Format {
	case vision.FormatGray8:
		hdr := fmt.Sprintf("P5\n%d %d\n255\n", f.Width, f.Height)
		out := make([]byte, 0, len(hdr)+len(f.Data))
		out = append(out, hdr...)
		out = append(out, f.Data...)
		return ".pgm", out
	case vision.FormatJPEG:
		return ".jpg", f.Data
	default:
		return ".bin", f.Data
	}
}

// Manifest reads a stored clip's manifest back from disk.
func (r *Recorder) Manifest(clipID string) (*vision.Clip, error) {
	dir, err := fsutil.SafeJoin(r.cfg.Dir, clipID)
	if err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(filepath.Join(dir, "clip.json"))
	if err != nil {
		return nil, fmt.Errorf("reading clip %s manifest: %w", clipID, err)
	}
	var clip vision.Clip
	if err := json.Unmarshal(data, &clip); err != nil {
		return nil, fmt.Errorf("decoding clip %s manifest: %w", clipID, err)
	}
	return &clip, nil
}

// ListFrames returns the stored frame filenames of a clip in playback
// order, excluding the manifest.
func (r *Recorder) ListFrames(clipID string) ([]string, error) {
	dir, err := fsutil.SafeJoin(r.cfg.Dir, clipID)
	if err != nil {
		return nil, err
	}
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing clip %s: %w", clipID, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "clip.json" {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// FramePath resolves a frame filename inside a clip to a filesystem
// path, rejecting anything that would escape the clip root.
func (r *Recorder) FramePath(clipID, name string) (string, error) {
	return fsutil.SafeJoin(r.cfg.Dir, clipID, name)
}

// Remove deletes a clip's directory and everything in it.
func (r *Recorder) Remove(clipID string) error {
	dir, err := fsutil.SafeJoin(r.cfg.Dir, clipID)
	if err != nil {
		return err
	}
	return r.fs.RemoveAll(dir)
}

// Stats returns current recorder counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	inflight := r.inflight
	r.mu.Unlock()
	return RecorderStats{
		Started:       r.started.Load(),
		Completed:     r.completed.Load(),
		SkippedBusy:   r.skippedBusy.Load(),
		FramesWritten: r.frames.Load(),
		WriteErrors:   r.writeErrors.Load(),
		InFlight:      inflight,
	}
}

// Close waits for every in-flight recording to finish. Callers should
// close the dispatcher first so recordings are not left waiting out
// their post-roll.
func (r *Recorder) Close() {
	r.wg.Wait()
}
