package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/monitoring"
	"github.com/Gift01-source/Camera/internal/vision"
)

// defaultQueueDepth bounds the number of events waiting for delivery.
const defaultQueueDepth = 32

// WebhookConfig configures a webhook transport.
type WebhookConfig struct {
	URL         string
	MinSeverity vision.Severity // events below this are skipped; empty sends all
	QueueDepth  int
	Timeout     time.Duration // per-POST budget; default 5s
}

// WebhookStats is a point-in-time snapshot of delivery counters.
type WebhookStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Webhook POSTs events as JSON to a configured URL. Notify enqueues
// onto a bounded channel with drop-oldest overflow so a slow or dead
// endpoint can never stall the rule engine; a single worker goroutine
// performs the actual POSTs.
type Webhook struct {
	cfg    WebhookConfig
	client httputil.HTTPClient

	queue chan *vision.Event
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewWebhook builds and starts a webhook transport. A nil client
// selects the standard HTTP client.
func NewWebhook(cfg WebhookConfig, client httputil.HTTPClient) *Webhook {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	w := &Webhook{
		cfg:    cfg,
		client: client,
		queue:  make(chan *vision.Event, cfg.QueueDepth),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Notify queues the event for delivery. When the queue is full the
// oldest waiting event is discarded so the newest one fits; the caller
// never waits either way.
func (w *Webhook) Notify(ev *vision.Event) {
	if w.cfg.MinSeverity != "" && !vision.SeverityAtLeast(ev.Severity, w.cfg.MinSeverity) {
		return
	}
	w.enqueued.Add(1)
	for {
		select {
		case w.queue <- ev:
			return
		default:
		}
		select {
		case old := <-w.queue:
			w.dropped.Add(1)
			monitoring.Logf("[notify] webhook queue full, dropped %s", old.ID)
		default:
		}
	}
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for {
		select {
		case ev := <-w.queue:
			w.post(ev)
		case <-w.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case ev := <-w.queue:
					w.post(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) post(ev *vision.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		w.failed.Add(1)
		monitoring.Logf("[notify] encode event %s: %v", ev.ID, err)
		return
	}
	resp, err := w.client.Post(w.cfg.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		w.failed.Add(1)
		monitoring.Logf("[notify] webhook POST failed for %s: %v", ev.ID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		w.failed.Add(1)
		monitoring.Logf("[notify] webhook returned %s for %s", resp.Status, ev.ID)
		return
	}
	w.delivered.Add(1)
}

// Stats returns current delivery counters.
func (w *Webhook) Stats() WebhookStats {
	return WebhookStats{
		Enqueued:  w.enqueued.Load(),
		Delivered: w.delivered.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
	}
}

// Close stops the worker after draining queued events. Safe to call
// more than once.
func (w *Webhook) Close() {
	w.closeOnce.Do(func() { close(w.done) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.Timeout):
		monitoring.Logf("[notify] webhook close timed out with %d queued", len(w.queue))
	}
}

// String identifies the transport in logs.
func (w *Webhook) String() string {
	return fmt.Sprintf("webhook(%s)", w.cfg.URL)
}
