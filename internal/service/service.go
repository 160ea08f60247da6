package service

import (
	"context"

	"pulseboard/internal/binding"
	"pulseboard/internal/bus"
	"pulseboard/internal/config"
	"pulseboard/internal/logger"
	"pulseboard/internal/models"
	"pulseboard/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Widgets is the engine's external interface: widget lifecycle, execution
// triggers, configuration edits, binding rule administration and status.
type Widgets interface {
	Register(ctx context.Context, w models.Widget) error
	Unregister(ctx context.Context, widgetID string) error
	Data(widgetID string) (models.WidgetData, bool)
	AllData() []models.WidgetData
	ExecuteNow(ctx context.Context, widgetID string) error
	ApplyConfigChange(ctx context.Context, change bus.ConfigChange) error
	Pause(widgetID string) error
	Resume(widgetID string) error

	SetBindingRule(componentType string, r binding.Rule)
	RemoveBindingRule(componentType, propertyPath string)
	BindingRules(componentType string) []binding.Rule
	SetTriggerRule(t binding.TriggerRule)
	RemoveTriggerRule(propertyPath string)
	TriggerRules() []binding.TriggerRule

	SetSchedulerEnabled(enabled bool)
	Status() EngineStatus
	Updates() (<-chan string, func())
	Close()
}

// EventLog exposes append-only engine diagnostics with filtered reads.
type EventLog interface {
	Record(e models.EngineEvent)
	List(ctx context.Context, f LogFilter) ([]models.EngineEvent, error)
}

// Service aggregates all sub-services behind one handle for the transport
// layer.
type Service struct {
	Widgets
	EventLog
	Authorization
}

func NewService(repos *repository.Repository, cfg *config.Config, log *logger.Logger) *Service {
	events := NewEventLogService(repos.EventRepo, log)
	return &Service{
		Widgets:       NewWidgetService(cfg, events, log),
		EventLog:      events,
		Authorization: NewAuthService(repos.Auth, cfg.Auth, log),
	}
}

// Close stops the engine. Call once, after the HTTP server is down.
func (s *Service) Close() {
	s.Widgets.Close()
}
