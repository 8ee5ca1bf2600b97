package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Gift01-source/Camera/internal/monitoring"
)

const (
	liveWriteTimeout = 5 * time.Second
	livePingInterval = 30 * time.Second
	livePongWait     = 60 * time.Second

	// Per-subscriber channel depth. Slow websocket readers fall behind
	// and the bus drops for them rather than stalling the pipeline.
	liveSubscriberBuffer = 32
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The monitor binds to an operator-facing address; browsers on
		// other origins may subscribe too.
		return true
	},
}

// handleEventsLive upgrades to a websocket and streams security events
// as they are published, one JSON object per message.
func (ws *WebServer) handleEventsLive(w http.ResponseWriter, r *http.Request) {
	if ws.cfg.Bus == nil {
		http.Error(w, "live events not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[monitor] websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	monitoring.Logf("[monitor] live event subscriber connected from %s", r.RemoteAddr)

	events, unsubscribe := ws.cfg.Bus.Subscribe(liveSubscriberBuffer)

	// readPump exists only to notice the client going away; subscribers
	// are not expected to send anything.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(livePongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		conn.Close()
		monitoring.Logf("[monitor] live event subscriber %s disconnected", r.RemoteAddr)
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
