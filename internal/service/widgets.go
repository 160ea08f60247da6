package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"pulseboard/internal/binding"
	"pulseboard/internal/bus"
	"pulseboard/internal/config"
	"pulseboard/internal/datasource"
	"pulseboard/internal/guard"
	"pulseboard/internal/logger"
	"pulseboard/internal/models"
	"pulseboard/internal/scheduler"
	"pulseboard/internal/store"
)

// Domain errors for widget flows.
var (
	ErrWidgetExists   = errors.New("widget already registered")
	ErrWidgetNotFound = errors.New("widget not found")
)

// WidgetService composes the engine. It owns the widget registry and wires
// the scheduler, executor, guard, binding engine, data store and change bus
// together behind the Widgets interface. Each of those keeps sole ownership
// of its own table; this service only calls their operations.
type WidgetService struct {
	store    *store.Store
	rules    *binding.Engine
	guard    *guard.Guard
	changes  *bus.Bus
	exec     *datasource.Executor
	sched    *scheduler.Scheduler
	debounce *binding.Debouncer
	events   EventLog
	log      *logger.Logger

	mu      sync.RWMutex
	widgets map[string]models.Widget
	paused  map[string]bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

func NewWidgetService(cfg *config.Config, events EventLog, log *logger.Logger) *WidgetService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &WidgetService{
		store:      store.New(),
		rules:      binding.NewEngine(),
		changes:    bus.New(),
		debounce:   binding.NewDebouncer(),
		events:     events,
		log:        log,
		widgets:    make(map[string]models.Widget),
		paused:     make(map[string]bool),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	s.guard = guard.New(guard.Config{
		MaxDepth: cfg.Guard.MaxDepth,
		Window:   cfg.Guard.Window(),
		MaxCalls: cfg.Guard.MaxCalls,
		Cooldown: cfg.Guard.Cooldown(),
	}, log)
	s.exec = datasource.NewExecutor(s.guard, s.rules, s.store, events, log,
		datasource.Config{CacheTTL: cfg.Engine.CacheTTL()}, s.lookupReference)
	s.sched = scheduler.New(scheduler.Config{
		TickInterval: cfg.Engine.TickInterval(),
		MaxPerTick:   cfg.Engine.MaxPerTick,
	}, s.runTask, log)

	sub, _ := s.changes.Subscribe()
	s.wg.Add(1)
	go s.watchChanges(sub)
	return s
}

// Register validates w and brings it fully into the engine: data sources
// built, store entry created, polling tasks started, one immediate
// execution per source kicked off so the widget doesn't wait a full tick
// for its first data.
func (s *WidgetService) Register(ctx context.Context, w models.Widget) error {
	if strings.TrimSpace(w.ID) == "" {
		return errors.New("widget id is required")
	}
	seen := make(map[string]struct{}, len(w.Sources))
	for _, def := range w.Sources {
		if strings.TrimSpace(def.ID) == "" {
			return &datasource.ConfigError{SourceID: def.ID, Reason: "data source id is required"}
		}
		if _, dup := seen[def.ID]; dup {
			return &datasource.ConfigError{SourceID: def.ID, Reason: "duplicate data source id"}
		}
		seen[def.ID] = struct{}{}
		if err := datasource.Validate(def); err != nil {
			return fmt.Errorf("widget %q: %w", w.ID, err)
		}
	}

	// Keep private copies; callers may reuse their buffers.
	w.Config = append(json.RawMessage(nil), w.Config...)
	w.Sources = append([]models.DataSource(nil), w.Sources...)

	s.mu.Lock()
	if _, exists := s.widgets[w.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("widget %q: %w", w.ID, ErrWidgetExists)
	}
	s.widgets[w.ID] = w
	s.mu.Unlock()

	for _, def := range w.Sources {
		if err := s.exec.Register(w.ID, def); err != nil {
			s.rollbackRegister(w.ID)
			return fmt.Errorf("widget %q: %w", w.ID, err)
		}
	}

	s.store.Create(w.ID, w.ComponentType)
	s.startTasks(w, false)

	s.events.Record(models.EngineEvent{
		Type:        models.EventRegister,
		WidgetID:    w.ID,
		Description: fmt.Sprintf("widget registered with %d data sources", len(w.Sources)),
		Metadata: map[string]any{
			"component_type":   w.ComponentType,
			"poll_interval_ms": w.PollIntervalMs,
		},
	})
	s.log.Infow("widget_registered",
		"widget_id", w.ID, "component_type", w.ComponentType,
		"sources", len(w.Sources), "poll_interval_ms", w.PollIntervalMs)

	_ = s.executeWidget(s.baseCtx, w.ID, datasource.Options{Origin: datasource.OriginRegister}, false)
	return nil
}

func (s *WidgetService) rollbackRegister(widgetID string) {
	s.mu.Lock()
	delete(s.widgets, widgetID)
	s.mu.Unlock()
	s.exec.UnregisterWidget(widgetID)
	s.sched.RemoveWidget(widgetID)
	s.store.Remove(widgetID)
}

// startTasks adds one polling task per source and starts them unless the
// widget is paused. A PollIntervalMs of zero means no polling at all.
func (s *WidgetService) startTasks(w models.Widget, paused bool) {
	if w.PollIntervalMs <= 0 {
		return
	}
	interval := time.Duration(w.PollIntervalMs) * time.Millisecond
	for _, def := range w.Sources {
		id := s.sched.Add(w.ID, def.ID, interval)
		if !paused {
			s.sched.Start(id)
		}
	}
}

// Unregister removes every trace of the widget: tasks, sources, pending
// trigger timers, guard records and stored data.
func (s *WidgetService) Unregister(ctx context.Context, widgetID string) error {
	s.mu.Lock()
	if _, ok := s.widgets[widgetID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("widget %q: %w", widgetID, ErrWidgetNotFound)
	}
	delete(s.widgets, widgetID)
	delete(s.paused, widgetID)
	s.mu.Unlock()

	s.sched.RemoveWidget(widgetID)
	s.exec.UnregisterWidget(widgetID)
	s.debounce.CancelPrefix(widgetID + "/")
	s.store.Remove(widgetID)

	s.events.Record(models.EngineEvent{
		Type:        models.EventUnregister,
		WidgetID:    widgetID,
		Description: "widget unregistered",
	})
	s.log.Infow("widget_unregistered", "widget_id", widgetID)
	return nil
}

// Data returns the current snapshot for one widget.
func (s *WidgetService) Data(widgetID string) (models.WidgetData, bool) {
	return s.store.Get(widgetID)
}

// AllData returns snapshots for every widget, ordered by widget ID.
func (s *WidgetService) AllData() []models.WidgetData {
	return s.store.List()
}

// ExecuteNow forces an immediate execution of all the widget's sources and
// waits for them to finish. Guard decisions still apply; the freshness
// cache does not.
func (s *WidgetService) ExecuteNow(ctx context.Context, widgetID string) error {
	err := s.executeWidget(ctx, widgetID, datasource.Options{Force: true, Origin: datasource.OriginManual}, true)
	if err != nil {
		return err
	}
	s.log.Infow("manual_execute", "widget_id", widgetID)
	return nil
}

// ApplyConfigChange publishes one configuration edit to the change bus.
// The service's own subscription applies it; other subscribers observe it.
// Old is filled from the current state when the caller leaves it empty, so
// trigger diffing always has both sides.
func (s *WidgetService) ApplyConfigChange(ctx context.Context, change bus.ConfigChange) error {
	s.mu.RLock()
	w, ok := s.widgets[change.WidgetID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("widget %q: %w", change.WidgetID, ErrWidgetNotFound)
	}

	if change.Section == "" {
		change.Section = bus.SectionConfig
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}
	if change.Old == nil {
		switch change.Section {
		case bus.SectionSources:
			if old, err := json.Marshal(w.Sources); err == nil {
				change.Old = old
			}
		default:
			change.Old = append(json.RawMessage(nil), w.Config...)
		}
	}

	s.changes.Publish(change)
	s.events.Record(models.EngineEvent{
		Type:        models.EventConfigChange,
		WidgetID:    change.WidgetID,
		Description: "configuration change published (" + change.Section + ")",
	})
	s.log.Debugw("config_change_published", "widget_id", change.WidgetID, "section", change.Section)
	return nil
}

// Pause stops the widget's polling tasks without losing them.
func (s *WidgetService) Pause(widgetID string) error {
	s.mu.Lock()
	if _, ok := s.widgets[widgetID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("widget %q: %w", widgetID, ErrWidgetNotFound)
	}
	s.paused[widgetID] = true
	s.mu.Unlock()

	s.sched.StopWidget(widgetID)
	s.log.Infow("widget_paused", "widget_id", widgetID)
	return nil
}

// Resume restarts the widget's polling tasks.
func (s *WidgetService) Resume(widgetID string) error {
	s.mu.Lock()
	if _, ok := s.widgets[widgetID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("widget %q: %w", widgetID, ErrWidgetNotFound)
	}
	delete(s.paused, widgetID)
	s.mu.Unlock()

	s.sched.StartWidget(widgetID)
	s.log.Infow("widget_resumed", "widget_id", widgetID)
	return nil
}

// SetBindingRule installs or replaces a rule. An empty componentType means
// the global table.
func (s *WidgetService) SetBindingRule(componentType string, r binding.Rule) {
	if componentType == "" {
		s.rules.RegisterRule(r)
	} else {
		s.rules.RegisterTypeRule(componentType, r)
	}
	s.log.Infow("binding_rule_set",
		"component_type", componentType, "property_path", r.PropertyPath, "param_name", r.ParamName)
}

// RemoveBindingRule drops a rule. An empty componentType means the global
// table.
func (s *WidgetService) RemoveBindingRule(componentType, propertyPath string) {
	if componentType == "" {
		s.rules.RemoveRule(propertyPath)
	} else {
		s.rules.RemoveTypeRule(componentType, propertyPath)
	}
	s.log.Infow("binding_rule_removed", "component_type", componentType, "property_path", propertyPath)
}

// BindingRules lists the effective rules for componentType ("" = global
// only).
func (s *WidgetService) BindingRules(componentType string) []binding.Rule {
	return s.rules.Rules(componentType)
}

// SetTriggerRule installs or replaces a trigger rule.
func (s *WidgetService) SetTriggerRule(t binding.TriggerRule) {
	s.rules.RegisterTrigger(t)
	s.log.Infow("trigger_rule_set", "property_path", t.PropertyPath, "enabled", t.Enabled, "debounce", t.Debounce)
}

// RemoveTriggerRule drops a trigger rule.
func (s *WidgetService) RemoveTriggerRule(propertyPath string) {
	s.rules.RemoveTrigger(propertyPath)
	s.log.Infow("trigger_rule_removed", "property_path", propertyPath)
}

// TriggerRules lists the active trigger rules.
func (s *WidgetService) TriggerRules() []binding.TriggerRule {
	return s.rules.Triggers()
}

// SetSchedulerEnabled flips the master polling switch. Task state is
// untouched; a re-enable resumes where things left off.
func (s *WidgetService) SetSchedulerEnabled(enabled bool) {
	s.sched.SetEnabled(enabled)
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	s.events.Record(models.EngineEvent{
		Type:        models.EventScheduler,
		Description: "scheduler " + state,
	})
	s.log.Infow("scheduler_toggled", "enabled", enabled)
}

// Status reports the engine internals.
func (s *WidgetService) Status() EngineStatus {
	s.mu.RLock()
	widgets := len(s.widgets)
	s.mu.RUnlock()

	return EngineStatus{
		SchedulerEnabled: s.sched.Enabled(),
		TimerRunning:     s.sched.TimerRunning(),
		Widgets:          widgets,
		Pairs:            s.exec.Pairs(),
		ActiveTasks:      s.sched.ActiveLen(),
		PendingTriggers:  s.debounce.Pending(),
		Tasks:            s.sched.Snapshot(),
		Guard:            s.guard.Snapshot(),
	}
}

// Updates exposes the store's change feed: widget IDs whose data changed.
func (s *WidgetService) Updates() (<-chan string, func()) {
	return s.store.Watch()
}

// Close stops polling, the change subscription, pending trigger timers and
// every data source.
func (s *WidgetService) Close() {
	s.sched.Close()
	s.changes.Close()
	s.wg.Wait()
	s.debounce.Stop()
	s.cancelBase()
	s.exec.Close()
	s.log.Infow("engine_stopped")
}

// runTask is the scheduler's Runner: one polled execution of one pair.
func (s *WidgetService) runTask(ctx context.Context, widgetID, sourceID string) {
	s.mu.RLock()
	w, ok := s.widgets[widgetID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.exec.Execute(ctx, w, sourceID, datasource.Options{Origin: datasource.OriginPoll})
}

// executeWidget runs every source of one widget, optionally waiting for
// completion. Results land in the store; the per-pair in-flight check and
// the guard still apply.
func (s *WidgetService) executeWidget(ctx context.Context, widgetID string, opts datasource.Options, wait bool) error {
	s.mu.RLock()
	w, ok := s.widgets[widgetID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("widget %q: %w", widgetID, ErrWidgetNotFound)
	}

	if !wait {
		for _, def := range w.Sources {
			go s.exec.Execute(ctx, w, def.ID, opts)
		}
		return nil
	}

	var wg sync.WaitGroup
	for _, def := range w.Sources {
		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			s.exec.Execute(ctx, w, sourceID, opts)
		}(def.ID)
	}
	wg.Wait()
	return nil
}

// watchChanges drains the service's own bus subscription until Close.
func (s *WidgetService) watchChanges(ch <-chan bus.ConfigChange) {
	defer s.wg.Done()
	for ev := range ch {
		s.applyChange(ev)
	}
}

func (s *WidgetService) applyChange(ev bus.ConfigChange) {
	switch ev.Section {
	case bus.SectionSources:
		s.applySourcesChange(ev)
	default:
		s.applyConfigChange(ev)
	}
}

// applyConfigChange swaps the stored configuration and debounces one
// re-execution per enabled trigger rule whose property actually changed.
func (s *WidgetService) applyConfigChange(ev bus.ConfigChange) {
	s.mu.Lock()
	w, ok := s.widgets[ev.WidgetID]
	if !ok {
		s.mu.Unlock()
		s.log.Debugw("config_change_for_unknown_widget", "widget_id", ev.WidgetID)
		return
	}
	w.Config = append(json.RawMessage(nil), ev.New...)
	s.widgets[ev.WidgetID] = w
	s.mu.Unlock()

	for _, tr := range s.rules.ChangedTriggers(ev.Old, ev.New) {
		widgetID := ev.WidgetID
		s.debounce.Bump(debounceKey(widgetID, tr.PropertyPath), tr.Debounce, func() {
			_ = s.executeWidget(s.baseCtx, widgetID,
				datasource.Options{Force: true, Origin: datasource.OriginTrigger}, false)
		})
		s.log.Debugw("trigger_debounced",
			"widget_id", widgetID, "property_path", tr.PropertyPath, "debounce", tr.Debounce)
	}
}

// applySourcesChange replaces the widget's data source definitions. The new
// set is validated in full before anything is touched; a bad set leaves the
// widget running on its old sources.
func (s *WidgetService) applySourcesChange(ev bus.ConfigChange) {
	var defs []models.DataSource
	if err := json.Unmarshal(ev.New, &defs); err != nil {
		s.log.Warnw("sources_change_malformed", "widget_id", ev.WidgetID, "err", err)
		return
	}
	for _, def := range defs {
		if err := datasource.Validate(def); err != nil {
			s.log.Warnw("sources_change_rejected", "widget_id", ev.WidgetID, "source_id", def.ID, "err", err)
			s.events.Record(models.EngineEvent{
				Type:        models.EventError,
				WidgetID:    ev.WidgetID,
				SourceID:    def.ID,
				Description: "sources change rejected: " + err.Error(),
			})
			return
		}
	}

	s.mu.Lock()
	w, ok := s.widgets[ev.WidgetID]
	if !ok {
		s.mu.Unlock()
		s.log.Debugw("sources_change_for_unknown_widget", "widget_id", ev.WidgetID)
		return
	}
	w.Sources = defs
	s.widgets[ev.WidgetID] = w
	paused := s.paused[ev.WidgetID]
	s.mu.Unlock()

	s.exec.UnregisterWidget(ev.WidgetID)
	s.sched.RemoveWidget(ev.WidgetID)
	for _, def := range defs {
		if err := s.exec.Register(ev.WidgetID, def); err != nil {
			s.log.Errorw("source_register_failed", "widget_id", ev.WidgetID, "source_id", def.ID, "err", err)
		}
	}
	s.startTasks(w, paused)

	s.log.Infow("widget_sources_replaced", "widget_id", ev.WidgetID, "sources", len(defs))
	_ = s.executeWidget(s.baseCtx, ev.WidgetID, datasource.Options{Origin: datasource.OriginRegister}, false)
}

// lookupReference resolves a binding reference path of the form
// widgets.<id>.<path> against the live data store. The <path> part walks
// the JSON form of that widget's WidgetData.
func (s *WidgetService) lookupReference(path string) (any, bool) {
	rest, ok := strings.CutPrefix(path, "widgets.")
	if !ok {
		return nil, false
	}
	widgetID, sub, ok := strings.Cut(rest, ".")
	if !ok || widgetID == "" || sub == "" {
		return nil, false
	}
	data, ok := s.store.Get(widgetID)
	if !ok {
		return nil, false
	}
	doc, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(doc, sub)
	if !res.Exists() || res.Type == gjson.Null {
		return nil, false
	}
	return res.Value(), true
}

func debounceKey(widgetID, propertyPath string) string {
	return widgetID + "/" + propertyPath
}
