package models

import "time"

// SourceStatus is the per-source execution bookkeeping kept for a widget.
type SourceStatus struct {
	LastRun     time.Time `json:"last_run,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
}

// WidgetData is the last known result and status for one widget. A failed
// execution records its error here but keeps the previous data: stale data
// beats an empty widget.
type WidgetData struct {
	WidgetID      string                  `json:"widget_id"`
	ComponentType string                  `json:"component_type"`
	Data          any                     `json:"data,omitempty"`
	LastUpdated   time.Time               `json:"last_updated,omitempty"`
	Loading       bool                    `json:"loading"`
	Error         string                  `json:"error,omitempty"`
	Sources       map[string]SourceStatus `json:"sources,omitempty"`
}

// ExecResult is the outcome of a single data source execution.
type ExecResult struct {
	ExecutionID string    `json:"execution_id"`
	WidgetID    string    `json:"widget_id"`
	SourceID    string    `json:"source_id"`
	Success     bool      `json:"success"`
	Data        any       `json:"data,omitempty"`
	Err         string    `json:"error,omitempty"`
	Suppressed  bool      `json:"suppressed,omitempty"` // denied by the execution guard
	Skipped     bool      `json:"skipped,omitempty"`    // coalesced with an in-flight execution
	FromCache   bool      `json:"from_cache,omitempty"` // served from the freshness cache
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}
