package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/monitoring"
)

// enrollRequest is the POST /api/faces body.
type enrollRequest struct {
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
}

// handleFaces serves the enrollment directory:
//
//	GET    /api/faces          list enrolled identities
//	POST   /api/faces          enroll {"name": ..., "embedding": [...]}
//	DELETE /api/faces?name=... remove an identity
func (ws *WebServer) handleFaces(w http.ResponseWriter, r *http.Request) {
	if ws.cfg.Faces == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "face directory not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		ids := ws.cfg.Faces.Identities()
		httputil.WriteJSONOK(w, map[string]any{
			"count":      len(ids),
			"identities": ids,
		})

	case http.MethodPost:
		var req enrollRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("decoding enrollment: %v", err))
			return
		}
		if req.Name == "" {
			httputil.BadRequest(w, "missing 'name'")
			return
		}
		if len(req.Embedding) == 0 {
			httputil.BadRequest(w, "missing 'embedding'")
			return
		}
		if err := ws.cfg.Faces.Enroll(req.Name, req.Embedding); err != nil {
			httputil.WriteJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("enrolling %q: %v", req.Name, err))
			return
		}
		monitoring.Logf("[monitor] enrolled face identity %q (%d dims)", req.Name, len(req.Embedding))
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "enrolled", "name": req.Name})

	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			httputil.BadRequest(w, "missing 'name' parameter")
			return
		}
		if err := ws.cfg.Faces.Remove(name); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("removing %q: %v", name, err))
			return
		}
		monitoring.Logf("[monitor] removed face identity %q", name)
		httputil.WriteJSONOK(w, map[string]string{"status": "removed", "name": name})

	default:
		httputil.MethodNotAllowed(w)
	}
}
