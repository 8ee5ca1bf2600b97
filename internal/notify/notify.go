// Package notify delivers events to external alerting channels. Every
// transport honours the same contract: Notify never blocks the caller
// and delivery is best-effort. The rule engine treats a fired event as
// handled regardless of what happens here.
package notify

import (
	"github.com/Gift01-source/Camera/internal/monitoring"
	"github.com/Gift01-source/Camera/internal/vision"
)

// LogNotifier writes events to the process log. It is the fallback
// transport when no webhook is configured.
type LogNotifier struct{}

// Notify logs the event.
func (LogNotifier) Notify(ev *vision.Event) {
	monitoring.Logf("[notify] %s", ev)
}

// MultiNotifier fans one event out to several transports in order.
type MultiNotifier []vision.Notifier

// Notify forwards the event to every transport.
func (m MultiNotifier) Notify(ev *vision.Event) {
	for _, n := range m {
		n.Notify(ev)
	}
}
