// Package scheduler drives every widget polling task from one shared
// timer. There is no per-widget ticker: a single loop wakes on each tick,
// collects due tasks and hands them to the runner, a bounded number at a
// time.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulseboard/internal/logger"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultTickInterval = 5 * time.Second
	DefaultMaxPerTick   = 5
)

// Runner executes one task. The scheduler treats the work as opaque; ctx
// is canceled when the scheduler closes.
type Runner func(ctx context.Context, widgetID, sourceID string)

// Config tunes a Scheduler.
type Config struct {
	TickInterval time.Duration // shared timer period
	MaxPerTick   int           // executions launched per tick at most
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxPerTick <= 0 {
		c.MaxPerTick = DefaultMaxPerTick
	}
	return c
}

// task is one polling assignment. Identity fields never change after Add;
// the state fields are owned by the scheduler mutex.
type task struct {
	id       string
	widgetID string
	sourceID string
	interval time.Duration

	active         bool
	executing      bool
	lastExecutedAt time.Time
	nextExecuteAt  time.Time
}

// TaskView is the read-only snapshot of one task.
type TaskView struct {
	ID             string        `json:"id"`
	WidgetID       string        `json:"widget_id"`
	SourceID       string        `json:"source_id"`
	Interval       time.Duration `json:"interval"`
	Active         bool          `json:"active"`
	Executing      bool          `json:"executing"`
	LastExecutedAt time.Time     `json:"last_executed_at,omitempty"`
	NextExecuteAt  time.Time     `json:"next_execute_at,omitempty"`
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	run     Runner
	log     *logger.Logger
	tasks   map[string]*task
	enabled bool
	closed  bool

	timerRunning bool
	stopLoop     chan struct{}

	baseCtx    context.Context
	cancelBase context.CancelFunc

	now func() time.Time
}

// New builds a Scheduler. The shared timer starts lazily with the first
// active task and stops when none remain.
func New(cfg Config, run Runner, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		run:        run,
		log:        log,
		tasks:      make(map[string]*task),
		enabled:    true,
		baseCtx:    ctx,
		cancelBase: cancel,
		now:        time.Now,
	}
}

// TaskID derives the task identifier for a (widget, source) pair.
func TaskID(widgetID, sourceID string) string {
	return widgetID + "/" + sourceID
}

// Add registers a task in the inactive state and returns its ID. Adding an
// existing pair updates its interval and keeps its state.
func (s *Scheduler) Add(widgetID, sourceID string, interval time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := TaskID(widgetID, sourceID)
	if existing, ok := s.tasks[id]; ok {
		existing.interval = interval
		return id
	}
	s.tasks[id] = &task{
		id:       id,
		widgetID: widgetID,
		sourceID: sourceID,
		interval: interval,
	}
	return id
}

// Start activates a task. Its first run comes one interval from now; the
// shared timer is spun up if this is the first active task.
func (s *Scheduler) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.active {
		return
	}
	t.active = true
	t.nextExecuteAt = s.now().Add(t.interval)
	s.syncTimerLocked()
}

// Stop deactivates a task without forgetting it.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		t.active = false
	}
	s.syncTimerLocked()
}

// Remove drops a task entirely. An execution already launched finishes on
// its own; nothing new is scheduled.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	s.syncTimerLocked()
}

// StartWidget activates every task belonging to widgetID.
func (s *Scheduler) StartWidget(widgetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, t := range s.tasks {
		if t.widgetID == widgetID && !t.active {
			t.active = true
			t.nextExecuteAt = now.Add(t.interval)
		}
	}
	s.syncTimerLocked()
}

// StopWidget deactivates every task belonging to widgetID.
func (s *Scheduler) StopWidget(widgetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.widgetID == widgetID {
			t.active = false
		}
	}
	s.syncTimerLocked()
}

// RemoveWidget drops every task belonging to widgetID.
func (s *Scheduler) RemoveWidget(widgetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tasks {
		if t.widgetID == widgetID {
			delete(s.tasks, id)
		}
	}
	s.syncTimerLocked()
}

// SetEnabled flips the master switch. Disabling pauses execution without
// touching task state; re-enabling resumes on the next tick.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports the master switch state.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Len reports the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ActiveLen reports the number of active tasks.
func (s *Scheduler) ActiveLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLenLocked()
}

// TimerRunning reports whether the shared timer loop is alive.
func (s *Scheduler) TimerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerRunning
}

// Snapshot returns all tasks ordered by ID.
func (s *Scheduler) Snapshot() []TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskView, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskView{
			ID:             t.id,
			WidgetID:       t.widgetID,
			SourceID:       t.sourceID,
			Interval:       t.interval,
			Active:         t.active,
			Executing:      t.executing,
			LastExecutedAt: t.lastExecutedAt,
			NextExecuteAt:  t.nextExecuteAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops the timer and cancels running executions. The scheduler is
// unusable afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timerRunning {
		close(s.stopLoop)
		s.stopLoop = nil
		s.timerRunning = false
	}
	s.mu.Unlock()
	s.cancelBase()
}

func (s *Scheduler) activeLenLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.active {
			n++
		}
	}
	return n
}

// syncTimerLocked starts or stops the shared timer to match the active
// task count. Callers hold s.mu.
func (s *Scheduler) syncTimerLocked() {
	wantRunning := !s.closed && s.activeLenLocked() > 0
	switch {
	case wantRunning && !s.timerRunning:
		s.stopLoop = make(chan struct{})
		s.timerRunning = true
		go s.loop(s.stopLoop)
		s.log.Infow("scheduler_timer_started", "tick_interval", s.cfg.TickInterval)
	case !wantRunning && s.timerRunning:
		close(s.stopLoop)
		s.stopLoop = nil
		s.timerRunning = false
		s.log.Infow("scheduler_timer_stopped")
	}
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick collects due tasks and launches up to MaxPerTick of them. Tasks
// sort by interval ascending so the most time-sensitive widgets go first;
// the rest stay due and get picked up next tick.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	now := s.now()
	var due []*task
	for _, t := range s.tasks {
		if t.active && !t.executing && !t.nextExecuteAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].interval != due[j].interval {
			return due[i].interval < due[j].interval
		}
		return due[i].id < due[j].id
	})
	deferred := 0
	if len(due) > s.cfg.MaxPerTick {
		deferred = len(due) - s.cfg.MaxPerTick
		due = due[:s.cfg.MaxPerTick]
	}
	for _, t := range due {
		t.executing = true
		t.lastExecutedAt = now
	}
	s.mu.Unlock()

	if deferred > 0 {
		s.log.Debugw("tick_over_capacity", "launched", len(due), "deferred", deferred)
	}
	for _, t := range due {
		go s.execute(t)
	}
}

// execute runs one task and reschedules it a full interval after
// completion, so a slow fetch delays the next run instead of stacking.
func (s *Scheduler) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("task_panicked", "task_id", t.id, "panic", r)
		}
		s.mu.Lock()
		t.executing = false
		t.nextExecuteAt = s.now().Add(t.interval)
		s.mu.Unlock()
	}()
	s.run(s.baseCtx, t.widgetID, t.sourceID)
}
