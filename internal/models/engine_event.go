package models

import "time"

// Engine event types.
const (
	EventRegister     = "REGISTER"
	EventUnregister   = "UNREGISTER"
	EventExecute      = "EXECUTE"
	EventError        = "ERROR"
	EventSuppressed   = "SUPPRESSED"
	EventConfigChange = "CONFIG_CHANGE"
	EventScheduler    = "SCHEDULER"
)

// EngineEvent is a single engine log entry.
type EngineEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	WidgetID    string    `json:"widget_id,omitempty"`
	SourceID    string    `json:"source_id,omitempty"`
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
