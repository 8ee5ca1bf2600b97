package monitor

import (
	"fmt"
	"net/http"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/vision"
)

// handleHeatmap returns the live decayed occupancy grid as JSON.
func (ws *WebServer) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cfg.Aggregator == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "analytics not running")
		return
	}
	httputil.WriteJSONOK(w, ws.cfg.Aggregator.HeatmapSnapshot(time.Now()))
}

// handleHeatmapPNG renders the live occupancy grid as a PNG image.
func (ws *WebServer) handleHeatmapPNG(w http.ResponseWriter, r *http.Request) {
	if ws.cfg.Aggregator == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "analytics not running")
		return
	}
	snap := ws.cfg.Aggregator.HeatmapSnapshot(time.Now())
	if snap == nil || snap.GridW == 0 || snap.GridH == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no heatmap data yet")
		return
	}

	hm := plotter.NewHeatMap(heatGrid{snap}, palette.Heat(16, 1))

	p := plot.New()
	p.Title.Text = fmt.Sprintf("occupancy %s", snap.TakenAt.Format("15:04:05"))
	p.HideAxes()
	p.Add(hm)

	// Keep the image aspect locked to the grid aspect.
	const width = 8 * vg.Inch
	height := width * vg.Length(snap.GridH) / vg.Length(snap.GridW)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("rendering heatmap: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		// Client hung up mid-render; nothing to do.
		return
	}
}

// heatGrid adapts a HeatmapSnapshot to plotter.GridXYZ. Grid row 0 is
// the top of the frame, while plot Y grows upward, so rows flip here.
type heatGrid struct {
	snap *vision.HeatmapSnapshot
}

func (g heatGrid) Dims() (c, r int) { return g.snap.GridW, g.snap.GridH }

func (g heatGrid) Z(c, r int) float64 {
	return float64(g.snap.At(c, g.snap.GridH-1-r))
}

func (g heatGrid) X(c int) float64 { return float64(c) }
func (g heatGrid) Y(r int) float64 { return float64(r) }
