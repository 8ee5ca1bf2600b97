package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Gift01-source/Camera/internal/db"
	"github.com/Gift01-source/Camera/internal/httputil"
)

// echartsAssetsPrefix pins the chart pages to a fixed asset host so
// they render without bundling JS into the binary.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleActivityChart renders people-count and dwell-time bars over the
// stored analytics windows (HTML, go-echarts). Debugging-only endpoint;
// the query params mirror /api/analytics.
func (ws *WebServer) handleActivityChart(w http.ResponseWriter, r *http.Request) {
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

	samples, err := ws.cfg.DB.Samples(r.Context(), db.SampleFilter{Since: since, Limit: 500})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("querying analytics samples: %v", err))
		return
	}
	if len(samples) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no analytics windows stored yet")
		return
	}

	// Samples come newest first; plot oldest to newest.
	labels := make([]string, 0, len(samples))
	people := make([]opts.BarData, 0, len(samples))
	dwell := make([]opts.BarData, 0, len(samples))
	for i := len(samples) - 1; i >= 0; i-- {
		s := samples[i]
		labels = append(labels, s.WindowEnd.Format("15:04"))
		people = append(people, opts.BarData{Value: s.PeopleCount})
		dwell = append(dwell, opts.BarData{Value: s.P95DwellSec})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  "Camera Activity",
			Theme:      "dark",
			Width:      "1200px",
			Height:     "600px",
			AssetsHost: echartsAssetsPrefix,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Activity — %s", ws.cfg.SourceName),
			Subtitle: fmt.Sprintf("windows=%d since=%s", len(samples), since.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("people", people).
		AddSeries("p95 dwell (s)", dwell)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("rendering chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
