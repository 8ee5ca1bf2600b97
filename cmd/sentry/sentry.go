// Command sentry runs the camera engine: one frame source feeding the
// security and analytics pipelines through the frame ring, with the
// monitor HTTP surface, sqlite persistence, and webhook alerting wired
// around them.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Gift01-source/Camera/internal/config"
	"github.com/Gift01-source/Camera/internal/db"
	"github.com/Gift01-source/Camera/internal/fsutil"
	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/notify"
	"github.com/Gift01-source/Camera/internal/version"
	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/analytics"
	"github.com/Gift01-source/Camera/internal/vision/detect"
	"github.com/Gift01-source/Camera/internal/vision/faces"
	"github.com/Gift01-source/Camera/internal/vision/incident"
	"github.com/Gift01-source/Camera/internal/vision/monitor"
	"github.com/Gift01-source/Camera/internal/vision/pipeline"
	"github.com/Gift01-source/Camera/internal/vision/rules"
	"github.com/Gift01-source/Camera/internal/vision/source"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbFile      = flag.String("db", "sentry_data.db", "Path to the SQLite database file")
	configFile  = flag.String("config", "", "Path to a tuning config JSON file (default: built-in defaults)")
	sourceName  = flag.String("source-name", "camera-0", "Display name for this camera")
	sourceKind  = flag.String("source", "synthetic", "Frame source: 'synthetic' or 'udp'")
	udpAddr     = flag.String("udp-addr", ":5600", "UDP listen address for MJPEG datagrams")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	frameWidth  = flag.Int("frame-width", 640, "Expected frame width in pixels")
	frameHeight = flag.Int("frame-height", 480, "Expected frame height in pixels")
	frameEvery  = flag.Duration("frame-interval", 100*time.Millisecond, "Synthetic source frame spacing")
	detectorURL = flag.String("detector-url", "", "Base URL of the HTTP detection service (empty: no object/face detection)")
	webhookURL  = flag.String("webhook-url", "", "POST events to this URL (empty: log only)")
	webhookMin  = flag.String("webhook-severity", "high", "Least urgent severity forwarded to the webhook")
	clipDir     = flag.String("clip-dir", "", "Incident clip directory (overrides tuning config)")
	logDiag     = flag.Bool("log-diag", false, "Enable the diagnostic log stream")
	logTrace    = flag.Bool("log-trace", false, "Enable the per-frame trace log stream (noisy)")
)

func main() {
	flag.Parse()

	// Subcommands that run and exit before any pipeline wiring.
	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	writers := vision.LogWriters{Ops: os.Stderr}
	if *logDiag {
		writers.Diag = os.Stderr
	}
	if *logTrace {
		writers.Trace = os.Stderr
	}
	vision.SetLogWriters(writers)

	cfg := loadTuning()

	log.Printf("sentry %s starting (source=%s db=%s)", version.Version, *sourceKind, *dbFile)

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	faceStore, err := faces.NewPersistentStore(ctx, database)
	if err != nil {
		log.Fatalf("Failed to load enrolled faces: %v", err)
	}
	log.Printf("loaded %d enrolled face identities", faceStore.Len())

	// Each pipeline gets its own stage: the stage holds previous-frame
	// state for motion estimation and must not be shared.
	stageCfg := detect.StageConfigFromTuning(cfg)
	secStage, anaStage := buildStages(stageCfg, faceStore)

	frameSource := buildSource()

	ring, err := vision.NewFrameRing(cfg.GetRingBufferCapacity())
	if err != nil {
		log.Fatalf("Failed to build frame ring: %v", err)
	}
	disp := vision.NewDispatcher(ring)

	recCfg := incident.RecorderConfigFromTuning(cfg)
	if *clipDir != "" {
		recCfg.Dir = *clipDir
	}
	recorder := incident.NewRecorder(recCfg, disp, fsutil.OSFileSystem{})
	recorder.OnComplete(func(clip *vision.Clip, ev *vision.Event) {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := database.RecordClip(cctx, clip); err != nil {
			vision.Opsf("recording clip %s: %v", clip.ID, err)
		}
	})

	sinks := pipeline.NewSinkQueue(cfg.GetSinkQueueSize(), database, database)
	bus := vision.NewEventBus()
	notifier, closeNotifier := buildNotifier()
	defer closeNotifier()

	security := pipeline.NewSecurityPipeline(pipeline.SecurityPipelineConfig{
		Stage:    secStage,
		Tracker:  track.NewTracker(track.TrackerConfigFromTuning(cfg)),
		Rules:    rules.NewEngine(rules.RulesFromTuning(cfg)),
		Sinks:    sinks,
		Bus:      bus,
		Notifier: notifier,
		Recorder: recorder,
	})

	aggregator, err := analytics.NewAggregator(analytics.Config{
		FlushInterval:   cfg.GetAnalyticsFlushInterval(),
		FlushFrameCount: cfg.GetAnalyticsFlushFrames(),
		GridW:           cfg.GetHeatmapGridW(),
		GridH:           cfg.GetHeatmapGridH(),
		FrameW:          *frameWidth,
		FrameH:          *frameHeight,
		DecayRate:       cfg.GetHeatmapDecayRate(),
	})
	if err != nil {
		log.Fatalf("Failed to build analytics aggregator: %v", err)
	}

	analyticsPipe := pipeline.NewAnalyticsPipeline(pipeline.AnalyticsPipelineConfig{
		Stage:      anaStage,
		Tracker:    track.NewTracker(track.TrackerConfigFromTuning(cfg)),
		Aggregator: aggregator,
		Sinks:      sinks,
		Stride:     cfg.GetAnalyticsStride(),
	})

	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Source:     frameSource,
		Ring:       ring,
		Dispatcher: disp,
		Security:   security,
		Analytics:  analyticsPipe,
		Sinks:      sinks,
		Recorder:   recorder,
		Bus:        bus,
		Notifier:   notifier,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	retention := buildRetention(cfg, database, recorder)
	retention.Start()
	defer retention.Stop()

	webserver := monitor.NewWebServer(monitor.WebServerConfig{
		Address:    *listen,
		Engine:     engine,
		DB:         database,
		Bus:        bus,
		Aggregator: aggregator,
		Faces:      faceStore,
		SourceName: *sourceName,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webserver.Start(ctx); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Engine exit (end of stream or dead source) does not take the
		// monitor down: status and API queries keep answering so an
		// operator can see why capture stopped. Only a signal ends the
		// process.
		if err := engine.Run(ctx); err != nil {
			log.Printf("Engine stopped: %v", err)
		}
	}()

	wg.Wait()
	log.Print("sentry stopped")
}

// loadTuning reads the tuning config from -config, or falls back to
// the built-in defaults. Either way the result is validated.
func loadTuning() *config.TuningConfig {
	var cfg *config.TuningConfig
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		cfg = loaded
		log.Printf("loaded tuning config from %s", *configFile)
	} else {
		cfg = config.DefaultTuningConfig()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}
	return cfg
}

// buildStages returns the per-pipeline analysis stages. With a
// detector service the security stage carries faces and motion and the
// analytics stage runs detection only; without one both run motion
// only, which still exercises the motion rule and the ring.
func buildStages(stageCfg detect.StageConfig, known vision.KnownFaceStore) (sec, ana *detect.Stage) {
	motion := func() vision.MotionEstimator {
		return detect.NewDiffMotionEstimator(10, 4)
	}
	if *detectorURL == "" {
		log.Print("no -detector-url: object and face detection disabled, motion only")
		sec = detect.NewStage(stageCfg, detect.NewScriptedDetector()).WithMotion(motion())
		ana = detect.NewStage(stageCfg, detect.NewScriptedDetector())
		return sec, ana
	}

	client := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
	det := detect.NewHTTPDetector(*detectorURL, client)
	if !det.Healthy(context.Background()) {
		log.Printf("detector at %s not answering health checks yet, continuing anyway", *detectorURL)
	}
	sec = detect.NewStage(stageCfg, det).
		WithFaces(det, det, known).
		WithMotion(motion())
	ana = detect.NewStage(stageCfg, det)
	return sec, ana
}

// buildSource constructs the frame source named by -source.
func buildSource() vision.FrameSource {
	switch *sourceKind {
	case "synthetic":
		return source.NewSynthetic(source.SyntheticConfig{
			Width:    *frameWidth,
			Height:   *frameHeight,
			Interval: *frameEvery,
			Blobs:    2,
			Realtime: true,
		})
	case "udp":
		src, err := source.NewUDPSource(source.UDPConfig{
			Address: *udpAddr,
			RcvBuf:  *rcvBuf,
		})
		if err != nil {
			log.Fatalf("Failed to open UDP source: %v", err)
		}
		log.Printf("listening for MJPEG datagrams on %s", *udpAddr)
		return src
	default:
		log.Fatalf("Unknown source %q (want 'synthetic' or 'udp')", *sourceKind)
		return nil
	}
}

// buildNotifier assembles the alert fan-out: always the log notifier,
// plus the webhook when -webhook-url is set.
func buildNotifier() (vision.Notifier, func()) {
	multi := notify.MultiNotifier{notify.LogNotifier{}}
	if *webhookURL == "" {
		return multi, func() {}
	}

	min := vision.Severity(*webhookMin)
	if !vision.ValidSeverity(min) {
		log.Fatalf("Invalid -webhook-severity %q", *webhookMin)
	}
	wh := notify.NewWebhook(notify.WebhookConfig{
		URL:         *webhookURL,
		MinSeverity: min,
	}, httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second}))
	log.Printf("webhook notifications to %s (severity >= %s)", *webhookURL, min)
	return append(multi, wh), wh.Close
}

// buildRetention wires the pruning worker: one TTL for everything,
// with clip directories removed through the recorder so rows only
// disappear once their frames are gone.
func buildRetention(cfg *config.TuningConfig, database *db.DB, rec *incident.Recorder) *db.RetentionWorker {
	ttl := time.Duration(cfg.GetRetentionDays()) * 24 * time.Hour
	w := db.NewRetentionWorker(database, ttl, ttl, ttl)
	w.RemoveClip = rec.Remove
	return w
}
