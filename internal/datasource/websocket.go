package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulseboard/internal/models"
)

func init() {
	Register(models.SourceWebSocket, newWebSocket)
}

const defaultWSTimeout = 10 * time.Second

// wsSource performs a request/response round trip over a websocket: the
// resolved parameters go out as one JSON message and the next message is
// the result. With Reconnect set, the connection is kept between
// executions; any error drops it so the next execution dials fresh.
type wsSource struct {
	cfg     models.WebSocketConfig
	timeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWebSocket(def models.DataSource) (Source, error) {
	var cfg models.WebSocketConfig
	if err := json.Unmarshal(def.Config, &cfg); err != nil {
		return nil, &ConfigError{SourceID: def.ID, Reason: "invalid websocket config: " + err.Error()}
	}
	if cfg.WSURL == "" {
		return nil, &ConfigError{SourceID: def.ID, Reason: "websocket source requires ws_url"}
	}
	u, err := url.Parse(cfg.WSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, &ConfigError{SourceID: def.ID, Reason: "ws_url must use ws:// or wss://"}
	}
	timeout := defaultWSTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	return &wsSource{cfg: cfg, timeout: timeout}, nil
}

func (s *wsSource) Fetch(ctx context.Context, params map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.conn
	if conn == nil {
		dialer := websocket.Dialer{HandshakeTimeout: s.timeout}
		newConn, _, err := dialer.DialContext(ctx, s.cfg.WSURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", s.cfg.WSURL, err)
		}
		conn = newConn
	}

	deadline := time.Now().Add(s.timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(params); err != nil {
		s.discard(conn)
		return nil, fmt.Errorf("write request: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, raw, err := conn.ReadMessage()
	if err != nil {
		s.discard(conn)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if s.cfg.Reconnect {
		s.conn = conn
	} else {
		s.conn = nil
		_ = conn.Close()
	}
	return decodePayload(raw), nil
}

// discard closes a failed connection and forgets it if cached.
func (s *wsSource) discard(conn *websocket.Conn) {
	_ = conn.Close()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *wsSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
