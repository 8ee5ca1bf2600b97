package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/db"
	"github.com/Gift01-source/Camera/internal/testutil"
	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/analytics"
	"github.com/Gift01-source/Camera/internal/vision/detect"
	"github.com/Gift01-source/Camera/internal/vision/faces"
	"github.com/Gift01-source/Camera/internal/vision/pipeline"
	"github.com/Gift01-source/Camera/internal/vision/rules"
	"github.com/Gift01-source/Camera/internal/vision/track"
)

func newMonitorDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestServer(t *testing.T, cfg WebServerConfig) *WebServer {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "test-camera"
	}
	return NewWebServer(cfg)
}

func storedEvent(typ vision.EventType, sev vision.Severity, at time.Time) *vision.Event {
	return &vision.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  sev,
		Timestamp: at,
		Detail:    "stored for handler tests",
	}
}

func TestHealthEndpoint(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "camera", body["service"])
}

func TestStatusPageRenders(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{SourceName: "loading-dock"})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "loading-dock")
}

func TestStatusPageUnknownPathIs404(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	rec := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/nope"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestAPIStatusWithoutEngine(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	rec := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

// deadSource fails its first read for good.
type deadSource struct{}

func (deadSource) Next(context.Context) (*vision.Frame, error) {
	return nil, vision.ErrSourceUnavailable
}
func (deadSource) Close() error { return nil }

func TestAPIStatusAfterSourceFailure(t *testing.T) {
	sec := pipeline.NewSecurityPipeline(pipeline.SecurityPipelineConfig{
		Stage:   detect.NewStage(detect.StageConfig{}, detect.NewScriptedDetector()),
		Tracker: track.NewTracker(track.TrackerConfig{TrackMissLimit: 3}),
		Rules:   rules.NewEngine(nil),
	})
	eng, err := pipeline.NewEngine(pipeline.EngineConfig{Source: deadSource{}, Security: sec})
	require.NoError(t, err)
	require.ErrorIs(t, eng.Run(context.Background()), vision.ErrSourceUnavailable)

	// Capture has halted for good; the monitor must keep answering so
	// an operator can see why.
	ws := newTestServer(t, WebServerConfig{Engine: eng})
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st pipeline.EngineStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.SourceHealthy)
	assert.Equal(t, uint64(1), st.SourceErrors)
}

func TestEventsEndpoint(t *testing.T) {
	database := newMonitorDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, database.PersistEvent(ctx, storedEvent(vision.EventMotion, vision.SeverityInfo, now.Add(-2*time.Minute))))
	require.NoError(t, database.PersistEvent(ctx, storedEvent(vision.EventRestrictedObject, vision.SeverityCritical, now.Add(-time.Minute))))
	require.NoError(t, database.PersistEvent(ctx, storedEvent(vision.EventUnknownFace, vision.SeverityHigh, now)))

	ws := newTestServer(t, WebServerConfig{DB: database})

	get := func(url string) (int, map[string]json.RawMessage) {
		rec := httptest.NewRecorder()
		ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		var body map[string]json.RawMessage
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		}
		return rec.Code, body
	}

	code, body := get("/api/events")
	require.Equal(t, http.StatusOK, code)
	var all []vision.Event
	require.NoError(t, json.Unmarshal(body["events"], &all))
	require.Len(t, all, 3)
	assert.Equal(t, vision.EventUnknownFace, all[0].Type, "newest first")

	code, body = get("/api/events?severity=high")
	require.Equal(t, http.StatusOK, code)
	var high []vision.Event
	require.NoError(t, json.Unmarshal(body["events"], &high))
	assert.Len(t, high, 2)

	code, body = get("/api/events?limit=1&type=motion")
	require.Equal(t, http.StatusOK, code)
	var motion []vision.Event
	require.NoError(t, json.Unmarshal(body["events"], &motion))
	require.Len(t, motion, 1)
	assert.Equal(t, vision.EventMotion, motion[0].Type)

	code, _ = get("/api/events?severity=loud")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get("/api/events?limit=horse")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEventsEndpointWithoutDB(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyticsEndpoints(t *testing.T) {
	database := newMonitorDB(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		end := now.Add(time.Duration(-i) * 5 * time.Minute)
		require.NoError(t, database.PersistSample(ctx, &vision.AnalyticsSample{
			WindowStart:    end.Add(-5 * time.Minute),
			WindowEnd:      end,
			PeopleCount:    i + 1,
			QueueDepth:     i,
			AvgDwellSec:    10,
			FramesAnalyzed: 100,
		}))
	}

	ws := newTestServer(t, WebServerConfig{DB: database})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count   int                      `json:"count"`
		Samples []vision.AnalyticsSample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)

	rec = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/summary?since=24h", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Summary db.AnalyticsSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Summary.Windows)
	assert.Equal(t, 3, summary.Summary.PeakPeople)
}

func TestIncidentsEndpoint(t *testing.T) {
	database := newMonitorDB(t)
	ctx := context.Background()
	now := time.Now()

	clip := &vision.Clip{
		ID:         uuid.NewString(),
		EventID:    uuid.NewString(),
		StartSeq:   10,
		EndSeq:     40,
		Start:      now.Add(-10 * time.Second),
		End:        now,
		FrameCount: 31,
		Dir:        "/tmp/clips/x",
	}
	require.NoError(t, database.RecordClip(ctx, clip))

	ws := newTestServer(t, WebServerConfig{DB: database})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/incidents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int           `json:"count"`
		Clips []vision.Clip `json:"clips"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, clip.ID, body.Clips[0].ID)
}

func TestFacesAPI(t *testing.T) {
	database := newMonitorDB(t)
	store, err := faces.NewPersistentStore(context.Background(), database)
	require.NoError(t, err)

	ws := newTestServer(t, WebServerConfig{Faces: store})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/faces", bytes.NewBufferString(body))
		ws.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"name":"ada","embedding":[1,0,0]}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = post(`{"name":"","embedding":[1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"name":"broken"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/faces", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count      int              `json:"count"`
		Identities []faces.Identity `json:"identities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "ada", listing.Identities[0].Name)

	rec = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/faces?name=ada", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, store.Len())
}

func TestHeatmapEndpoints(t *testing.T) {
	agg, err := analytics.NewAggregator(analytics.Config{
		FlushInterval: time.Minute,
		GridW:         8, GridH: 6,
		FrameW: 640, FrameH: 480,
		DecayRate: 0.95,
	})
	require.NoError(t, err)

	now := time.Now()
	agg.Observe(&vision.FrameAnalysis{
		FrameSeq:  1,
		Timestamp: now,
		Detections: []vision.Detection{
			{BBox: vision.BBox{X: 100, Y: 100, W: 80, H: 160}, Class: "person", Confidence: 0.9},
		},
	}, track.TrackUpdate{})

	ws := newTestServer(t, WebServerConfig{Aggregator: agg})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/heatmap", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap vision.HeatmapSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 8, snap.GridW)
	assert.Equal(t, 6, snap.GridH)

	rec = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/heatmap.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")), "body should be a PNG")
}

func TestHeatmapWithoutAggregator(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/heatmap", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestActivityChart(t *testing.T) {
	database := newMonitorDB(t)
	now := time.Now()
	require.NoError(t, database.PersistSample(context.Background(), &vision.AnalyticsSample{
		WindowStart: now.Add(-5 * time.Minute),
		WindowEnd:   now,
		PeopleCount: 4,
		P95DwellSec: 30,
	}))

	ws := newTestServer(t, WebServerConfig{DB: database})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/charts/activity", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestActivityChartEmpty(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{DB: newMonitorDB(t)})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/charts/activity", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsLiveStream(t *testing.T) {
	bus := vision.NewEventBus()
	ws := newTestServer(t, WebServerConfig{Bus: bus})

	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The subscription races the dial; publish until the subscriber is
	// registered and a message comes through.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(storedEvent(vision.EventMotion, vision.SeverityMedium, time.Now()))
			}
		}
	}()
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got vision.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, vision.EventMotion, got.Type)
	assert.Equal(t, vision.SeverityMedium, got.Severity)
}

func TestEventsLiveWithoutBus(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/live", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseTimeParam(t *testing.T) {
	abs, err := parseTimeParam("2026-03-14T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, abs.Year())

	rel, err := parseTimeParam("30m")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-30*time.Minute), rel, 2*time.Second)

	_, err = parseTimeParam("soon")
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "soon")
}
