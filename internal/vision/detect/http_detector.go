package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/vision"
)

// HTTPDetector talks to an external inference service over JSON. One
// detector instance covers object detection, face location, and face
// embedding; each capability maps to its own endpoint under the base
// URL:
//
//	POST /detect       object detections for a frame
//	POST /faces/detect face regions for a frame
//	POST /faces/embed  embedding for one face region
//	GET  /health       liveness, cached between polls
type HTTPDetector struct {
	baseURL string
	client  httputil.HTTPClient

	healthTTL time.Duration
	mu        sync.Mutex
	healthy   bool
	checkedAt time.Time
}

// NewHTTPDetector returns a detector for the service at baseURL. A nil
// client falls back to the default HTTP client.
func NewHTTPDetector(baseURL string, client httputil.HTTPClient) *HTTPDetector {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPDetector{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		healthTTL: 30 * time.Second,
	}
}

// frameRequest is the wire form of one frame.
type frameRequest struct {
	FrameSeq uint64 `json:"frame_seq"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	Image    string `json:"image"` // base64 pixel buffer
}

// regionRequest asks for the embedding of one face crop.
type regionRequest struct {
	frameRequest
	Region vision.BBox `json:"region"`
}

func encodeFrame(frame *vision.Frame) frameRequest {
	return frameRequest{
		FrameSeq: frame.Seq,
		Width:    frame.Width,
		Height:   frame.Height,
		Format:   string(frame.Format),
		Image:    base64.StdEncoding.EncodeToString(frame.Data),
	}
}

// Detect implements vision.ObjectDetector.
func (d *HTTPDetector) Detect(ctx context.Context, frame *vision.Frame) ([]vision.Detection, error) {
	var resp struct {
		Detections []vision.Detection `json:"detections"`
	}
	if err := d.post(ctx, "/detect", encodeFrame(frame), &resp); err != nil {
		return nil, fmt.Errorf("object detection: %w", err)
	}
	return resp.Detections, nil
}

// DetectFaces implements vision.FaceDetector.
func (d *HTTPDetector) DetectFaces(ctx context.Context, frame *vision.Frame) ([]vision.FaceRegion, error) {
	var resp struct {
		Faces []vision.FaceRegion `json:"faces"`
	}
	if err := d.post(ctx, "/faces/detect", encodeFrame(frame), &resp); err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}
	return resp.Faces, nil
}

// Encode implements vision.FaceEncoder.
func (d *HTTPDetector) Encode(ctx context.Context, frame *vision.Frame, region vision.FaceRegion) ([]float32, error) {
	req := regionRequest{frameRequest: encodeFrame(frame), Region: region.BBox}
	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := d.post(ctx, "/faces/embed", req, &resp); err != nil {
		return nil, fmt.Errorf("face embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("face embedding: service returned empty vector")
	}
	return resp.Embedding, nil
}

// Healthy probes GET /health, caching the verdict for the TTL so the
// per-frame path never queues health checks behind inference calls.
func (d *HTTPDetector) Healthy(ctx context.Context) bool {
	d.mu.Lock()
	if time.Since(d.checkedAt) < d.healthTTL {
		h := d.healthy
		d.mu.Unlock()
		return h
	}
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	ok := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	d.mu.Lock()
	d.healthy = ok
	d.checkedAt = time.Now()
	d.mu.Unlock()
	return ok
}

func (d *HTTPDetector) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("call %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
