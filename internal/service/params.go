package service

import (
	"time"

	"pulseboard/internal/guard"
	"pulseboard/internal/scheduler"
)

// LogFilter narrows event log reads. Zero values mean no bound.
type LogFilter struct {
	From     time.Time // inclusive; zero means no lower bound
	To       time.Time // inclusive; zero means no upper bound
	Type     string    // "", "REGISTER", "UNREGISTER", "EXECUTE", "ERROR", "SUPPRESSED", "CONFIG_CHANGE", "SCHEDULER"
	WidgetID string    // "" means all widgets
}

// EngineStatus is a point-in-time snapshot of the engine internals,
// served by the status endpoint.
type EngineStatus struct {
	SchedulerEnabled bool                 `json:"scheduler_enabled"`
	TimerRunning     bool                 `json:"timer_running"`
	Widgets          int                  `json:"widgets"`
	Pairs            int                  `json:"pairs"`
	ActiveTasks      int                  `json:"active_tasks"`
	PendingTriggers  int                  `json:"pending_triggers"`
	Tasks            []scheduler.TaskView `json:"tasks,omitempty"`
	Guard            guard.Snapshot       `json:"guard"`
}
