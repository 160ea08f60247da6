package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"pulseboard/internal/logger"
	"pulseboard/internal/models"
	"pulseboard/internal/repository"
)

const appendTimeout = 5 * time.Second

type EventLogService struct {
	eventRepo repository.EventRepo
	log       *logger.Logger
}

func NewEventLogService(eventRepo repository.EventRepo, log *logger.Logger) *EventLogService {
	return &EventLogService{eventRepo: eventRepo, log: log}
}

var errInvalidTimeRange = errors.New("invalid time range: From must be <= To")

// Record appends one event asynchronously. Engine paths must never block
// on the database; a failed append is logged and dropped.
func (s *EventLogService) Record(e models.EngineEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := s.eventRepo.Append(ctx, e); err != nil {
			s.log.Errorw("event_append_failed", "type", e.Type, "widget_id", e.WidgetID, "err", err)
		}
	}()
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (LogFilter, error) {
	f.From = normalizeToUTC(f.From)
	f.To = normalizeToUTC(f.To)

	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return LogFilter{}, errInvalidTimeRange
	}

	f.Type = normalizeEventType(f.Type)
	f.WidgetID = strings.TrimSpace(f.WidgetID)
	return f, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.EngineEvent, error) {
	f, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, f.From, f.To, f.Type, f.WidgetID)
}
