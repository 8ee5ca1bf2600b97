package monitor

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gift01-source/Camera/internal/db"
	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/vision"
)

// handleAPIStatus returns the aggregated engine counters as JSON.
func (ws *WebServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cfg.Engine == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	httputil.WriteJSONOK(w, ws.cfg.Engine.Status())
}

// handleEvents lists stored security events, newest first.
// Query params: limit, since (RFC3339 or relative like "30m"),
// severity (minimum level), type (repeatable).
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cfg.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	f := db.EventFilter{}
	q := r.URL.Query()

	if lim := q.Get("limit"); lim != "" {
		v, err := strconv.Atoi(lim)
		if err != nil || v < 1 || v > 10000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		f.Limit = v
	}
	if since := q.Get("since"); since != "" {
		t, err := parseTimeParam(since)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'since' parameter: %v", err))
			return
		}
		f.Since = t
	}
	if sev := q.Get("severity"); sev != "" {
		s := vision.Severity(sev)
		if !vision.ValidSeverity(s) {
			httputil.BadRequest(w, fmt.Sprintf("unknown severity %q", sev))
			return
		}
		f.MinSeverity = s
	}
	for _, t := range q["type"] {
		f.Types = append(f.Types, vision.EventType(t))
	}

	events, err := ws.cfg.DB.Events(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("querying events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// handleAnalytics lists flushed analytics windows, newest first.
func (ws *WebServer) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cfg.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	f := db.SampleFilter{}
	q := r.URL.Query()
	if lim := q.Get("limit"); lim != "" {
		v, err := strconv.Atoi(lim)
		if err != nil || v < 1 || v > 10000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		f.Limit = v
	}
	if since := q.Get("since"); since != "" {
		t, err := parseTimeParam(since)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'since' parameter: %v", err))
			return
		}
		f.Since = t
	}

	samples, err := ws.cfg.DB.Samples(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("querying analytics samples: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"count":   len(samples),
		"samples": samples,
	})
}

// handleAnalyticsSummary rolls the stored windows since a cutoff
// (default 24h ago) into one aggregate row.
func (ws *WebServer) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cfg.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := parseTimeParam(s)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'since' parameter: %v", err))
			return
		}
		since = t
	}

	summary, err := ws.cfg.DB.SummarizeSince(r.Context(), since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("summarizing analytics: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"since":   since.UTC().Format(time.RFC3339),
		"summary": summary,
	})
}

// handleIncidents lists recorded clips, newest first.
func (ws *WebServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cfg.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	limit := 50
	if lim := r.URL.Query().Get("limit"); lim != "" {
		v, err := strconv.Atoi(lim)
		if err != nil || v < 1 || v > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = v
	}

	clips, err := ws.cfg.DB.Clips(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("querying clips: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"count": len(clips),
		"clips": clips,
	})
}

// parseTimeParam accepts either an RFC3339 timestamp or a relative
// duration ("30m", "24h") counted back from now.
func parseTimeParam(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or duration, got %q", s)
	}
	if d < 0 {
		d = -d
	}
	return time.Now().Add(-d), nil
}
