package models

import "encoding/json"

// Widget is one dashboard element registered with the engine: its component
// type, its configuration blob and the data sources that feed it.
type Widget struct {
	ID             string          `json:"id"`
	ComponentType  string          `json:"component_type"`
	Config         json.RawMessage `json:"config,omitempty"`
	Sources        []DataSource    `json:"sources"`
	PollIntervalMs int             `json:"poll_interval_ms,omitempty"` // 0 disables polling
}
