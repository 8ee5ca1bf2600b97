// Package monitor is the HTTP surface of the camera engine: health and
// status, event and analytics queries, the live event websocket, the
// heatmap renderings, and face enrollment. It reads engine state and
// the database; it never feeds anything back into the pipelines.
package monitor

import (
	"context"
	"embed"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/Gift01-source/Camera/internal/db"
	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/version"
	"github.com/Gift01-source/Camera/internal/vision"
	"github.com/Gift01-source/Camera/internal/vision/analytics"
	"github.com/Gift01-source/Camera/internal/vision/faces"
	"github.com/Gift01-source/Camera/internal/vision/pipeline"
)

//go:embed status.html
var StatusHTML embed.FS

// FaceDirectory is the enrollment surface the faces API needs.
type FaceDirectory interface {
	Enroll(name string, embedding []float32) error
	Remove(name string) error
	Identities() []faces.Identity
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address    string
	Engine     *pipeline.Engine
	DB         *db.DB                // nil disables query and debug endpoints
	Bus        *vision.EventBus      // nil disables the live event stream
	Aggregator *analytics.Aggregator // nil disables live heatmap endpoints
	Faces      FaceDirectory         // nil disables the faces API
	SourceName string
}

// WebServer handles the HTTP interface for the camera engine.
type WebServer struct {
	cfg       WebServerConfig
	server    *http.Server
	startedAt time.Time
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{cfg: cfg, startedAt: time.Now()}
	ws.server = &http.Server{
		Addr:    cfg.Address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Handler exposes the route mux, mainly for httptest.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start begins the HTTP server in a goroutine and handles graceful
// shutdown when ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("starting HTTP server on %s", ws.cfg.Address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/status", ws.handleAPIStatus)
	mux.HandleFunc("/api/events", ws.handleEvents)
	mux.HandleFunc("/api/events/live", ws.handleEventsLive)
	mux.HandleFunc("/api/analytics", ws.handleAnalytics)
	mux.HandleFunc("/api/analytics/summary", ws.handleAnalyticsSummary)
	mux.HandleFunc("/api/heatmap", ws.handleHeatmap)
	mux.HandleFunc("/api/heatmap.png", ws.handleHeatmapPNG)
	mux.HandleFunc("/api/charts/activity", ws.handleActivityChart)
	mux.HandleFunc("/api/faces", ws.handleFaces)
	mux.HandleFunc("/api/incidents", ws.handleIncidents)

	if ws.cfg.DB != nil {
		ws.cfg.DB.AttachAdminRoutes(mux)
	}
	return mux
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "camera",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles the main status page endpoint.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var st pipeline.EngineStatus
	if ws.cfg.Engine != nil {
		st = ws.cfg.Engine.Status()
	}

	data := struct {
		HTTPAddress string
		SourceName  string
		Version     string
		Uptime      string
		Status      pipeline.EngineStatus
		HasDB       bool
	}{
		HTTPAddress: ws.cfg.Address,
		SourceName:  ws.cfg.SourceName,
		Version:     version.Version,
		Uptime:      time.Since(ws.startedAt).Round(time.Second).String(),
		Status:      st,
		HasDB:       ws.cfg.DB != nil,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
