package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pulseboard/internal/models"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB
)

// Envelope used for WebSocket messages. Type is "snapshot" for the
// initial full dump and "widget_data" for incremental updates.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Upgrader for HTTP -> WebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origins for production
}

// wsFeed streams widget data over a WebSocket. The client gets one
// snapshot frame on connect, then one widget_data frame per store
// update. An optional ?widget_id= narrows the feed to a single widget.
func (h *Handler) wsFeed(c *gin.Context) {
	widgetID := c.Query("widget_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorw("ws_upgrade_failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	h.log.Debugw("ws_client_connected", "remote", conn.RemoteAddr().String(), "widget_id", widgetID)

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader goroutine to handle control frames and detect disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	updates, cancelWatch := h.services.Updates()
	defer cancelWatch()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// Send the current data immediately so clients render without
	// waiting for the first change.
	if err := h.writeFrame(conn, wsEnvelope{Type: "snapshot", Data: h.snapshotFor(widgetID)}); err != nil {
		h.log.Infow("ws_write_failed_initial", "err", err)
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Infow("ws_ping_failed", "err", err)
				return
			}
		case id, ok := <-updates:
			if !ok {
				return
			}
			if widgetID != "" && id != widgetID {
				continue
			}
			d, found := h.services.Data(id)
			if !found {
				// Unregistered between notify and read.
				continue
			}
			if err := h.writeFrame(conn, wsEnvelope{Type: "widget_data", Data: d}); err != nil {
				h.log.Infow("ws_write_failed", "err", err)
				return
			}
		}
	}
}

// Helper: snapshotFor collects the data for the initial frame, honoring
// the widget_id filter.
func (h *Handler) snapshotFor(widgetID string) []models.WidgetData {
	if widgetID == "" {
		return h.services.AllData()
	}
	if d, ok := h.services.Data(widgetID); ok {
		return []models.WidgetData{d}
	}
	return []models.WidgetData{}
}

// Helper: writeFrame writes one envelope with a write deadline.
func (h *Handler) writeFrame(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// Helper: startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.Debugw("ws_read_closed", "err", err)
			return
		}
	}
}
