package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/httputil"
	"github.com/Gift01-source/Camera/internal/monitoring"
	"github.com/Gift01-source/Camera/internal/vision"
)

func testEvent(id string, sev vision.Severity) *vision.Event {
	return &vision.Event{
		ID:        id,
		Type:      vision.EventMotion,
		Severity:  sev,
		Timestamp: time.Now(),
		Detail:    "motion above threshold",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWebhookDeliversEvent(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	wh := NewWebhook(WebhookConfig{URL: "http://alerts.local/hook"}, client)
	defer wh.Close()

	wh.Notify(testEvent("ev-1", vision.SeverityHigh))

	waitFor(t, func() bool { return wh.Stats().Delivered == 1 })

	req := client.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var got vision.Event
	require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, vision.SeverityHigh, got.Severity)
}

func TestWebhookSeverityFilter(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	wh := NewWebhook(WebhookConfig{
		URL:         "http://alerts.local/hook",
		MinSeverity: vision.SeverityHigh,
	}, client)

	wh.Notify(testEvent("ev-info", vision.SeverityInfo))
	wh.Notify(testEvent("ev-crit", vision.SeverityCritical))
	wh.Close()

	assert.Equal(t, uint64(1), wh.Stats().Enqueued)
	assert.Equal(t, 1, client.RequestCount())
}

func TestWebhookNeverBlocksWhenEndpointStalls(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	client := httputil.NewMockHTTPClient()
	client.DoFunc = func(req *http.Request) (*http.Response, error) {
		<-release
		return nil, fmt.Errorf("endpoint gone")
	}

	wh := NewWebhook(WebhookConfig{
		URL:        "http://alerts.local/hook",
		QueueDepth: 4,
		Timeout:    100 * time.Millisecond,
	}, client)
	defer func() {
		once.Do(func() { close(release) })
		wh.Close()
	}()

	// Flood well past queue depth while the worker is wedged on the
	// first POST. Every Notify must return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			wh.Notify(testEvent(fmt.Sprintf("ev-%d", i), vision.SeverityMedium))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stalled endpoint")
	}
	assert.Greater(t, wh.Stats().Dropped, uint64(0), "overflow should drop oldest")
	once.Do(func() { close(release) })
}

func TestWebhookCountsFailures(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusInternalServerError, "nope")

	wh := NewWebhook(WebhookConfig{URL: "http://alerts.local/hook"}, client)
	wh.Notify(testEvent("ev-1", vision.SeverityHigh))
	wh.Close()

	st := wh.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(0), st.Delivered)
}

func TestWebhookCloseDrainsQueue(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	wh := NewWebhook(WebhookConfig{URL: "http://alerts.local/hook", QueueDepth: 8}, client)

	for i := 0; i < 5; i++ {
		wh.Notify(testEvent(fmt.Sprintf("ev-%d", i), vision.SeverityMedium))
	}
	wh.Close()

	assert.Equal(t, uint64(5), wh.Stats().Delivered)
}

func TestLogNotifier(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	LogNotifier{}.Notify(testEvent("ev-log", vision.SeverityInfo))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], "motion"), "log line should mention the event: %s", lines[0])
}

type captureNotifier struct {
	mu     sync.Mutex
	events []*vision.Event
}

func (c *captureNotifier) Notify(ev *vision.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func TestMultiNotifierFansOut(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	m := MultiNotifier{a, b}

	ev := testEvent("ev-multi", vision.SeverityHigh)
	m.Notify(ev)

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Same(t, ev, a.events[0])
}
