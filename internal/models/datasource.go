package models

import "encoding/json"

// Data source types accepted at registration.
const (
	SourceStatic    = "static"
	SourceHTTP      = "http"
	SourceWebSocket = "websocket"
	SourceScript    = "script"
)

// DataSource describes how one piece of widget data is fetched or computed.
// Definitions are immutable once registered; a configuration edit replaces
// the definition wholesale.
type DataSource struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"` // static | http | websocket | script
	Config        json.RawMessage `json:"config,omitempty"`
	FilterPath    string          `json:"filter_path,omitempty"`    // gjson path applied to the raw result
	ProcessScript string          `json:"process_script,omitempty"` // expr program applied after FilterPath
}

// StaticConfig is the Config payload for type "static".
type StaticConfig struct {
	Data json.RawMessage `json:"data"`
}

// HTTPConfig is the Config payload for type "http".
type HTTPConfig struct {
	URL       string            `json:"url"`
	Method    string            `json:"method,omitempty"` // defaults to GET
	Headers   map[string]string `json:"headers,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Body      string            `json:"body,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"`
}

// WebSocketConfig is the Config payload for type "websocket".
type WebSocketConfig struct {
	WSURL     string `json:"ws_url"`
	Reconnect bool   `json:"reconnect,omitempty"` // keep the connection across executions
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// ScriptConfig is the Config payload for type "script".
type ScriptConfig struct {
	Script  string         `json:"script"`
	Context map[string]any `json:"context,omitempty"`
}
