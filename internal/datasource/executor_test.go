package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulseboard/internal/binding"
	"pulseboard/internal/guard"
	"pulseboard/internal/logger"
	"pulseboard/internal/models"
	"pulseboard/internal/store"
)

// recordingSink collects events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []models.EngineEvent
}

func (r *recordingSink) Record(e models.EngineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) byType(typ string) []models.EngineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EngineEvent
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type executorFixture struct {
	ex    *Executor
	store *store.Store
	rules *binding.Engine
	guard *guard.Guard
	sink  *recordingSink
}

func newFixture(t *testing.T, cfg Config, lookup func(string) (any, bool)) *executorFixture {
	t.Helper()
	g := guard.New(guard.Config{MaxDepth: 10, Window: time.Minute, MaxCalls: 1000}, logger.Nop())
	rules := binding.NewEngine()
	st := store.New()
	sink := &recordingSink{}
	ex := NewExecutor(g, rules, st, sink, logger.Nop(), cfg, lookup)
	t.Cleanup(ex.Close)
	return &executorFixture{ex: ex, store: st, rules: rules, guard: g, sink: sink}
}

func (f *executorFixture) registerFake(t *testing.T, widgetID, sourceID string, fs *fakeSource) models.Widget {
	t.Helper()
	stageFake(t, sourceID, fs)
	def := models.DataSource{ID: sourceID, Type: "fake"}
	if err := f.ex.Register(widgetID, def); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	f.store.Create(widgetID, "chart")
	return models.Widget{ID: widgetID, ComponentType: "chart", Sources: []models.DataSource{def}}
}

func TestExecutor_RegisterRejectsUnknownType(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	err := f.ex.Register("w1", models.DataSource{ID: "s1", Type: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if f.ex.Pairs() != 0 {
		t.Fatalf("pairs: got %d, want 0", f.ex.Pairs())
	}
}

func TestExecutor_RegisterRejectsBadProcessScript(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	stageFake(t, "s1", &fakeSource{})

	err := f.ex.Register("w1", models.DataSource{ID: "s1", Type: "fake", ProcessScript: "1 +"})
	if err == nil {
		t.Fatal("expected error for bad process script")
	}
}

func TestExecutor_SuccessLandsInStore(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	fs := &fakeSource{data: map[string]any{"v": float64(7)}}
	w := f.registerFake(t, "w1", "s1", fs)

	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}

	data, ok := f.store.Get("w1")
	if !ok {
		t.Fatal("widget missing from store")
	}
	payload, ok := data.Data.(map[string]any)
	if !ok || payload["v"] != float64(7) {
		t.Fatalf("stored data: got %v", data.Data)
	}
	if data.Loading {
		t.Fatal("loading flag not cleared")
	}
}

func TestExecutor_FailureRecordsErrorEvent(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	fs := &fakeSource{err: errors.New("upstream down")}
	w := f.registerFake(t, "w1", "s1", fs)

	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if res.Success || res.Err == "" {
		t.Fatalf("result: %+v", res)
	}

	data, _ := f.store.Get("w1")
	if data.Error != "upstream down" {
		t.Fatalf("stored error: got %q", data.Error)
	}
	if got := f.sink.byType(models.EventError); len(got) != 1 {
		t.Fatalf("error events: got %d, want 1", len(got))
	}
}

func TestExecutor_SecondExecutionWhileInFlightSkips(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	fs := &fakeSource{
		data:    "v1",
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	w := f.registerFake(t, "w1", "s1", fs)

	done := make(chan models.ExecResult, 1)
	go func() {
		done <- f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	}()
	<-fs.started

	second := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginManual, Force: true})
	if !second.Skipped {
		t.Fatalf("expected skip, got %+v", second)
	}

	close(fs.block)
	first := <-done
	if !first.Success {
		t.Fatalf("first execution failed: %+v", first)
	}
	if fs.callCount() != 1 {
		t.Fatalf("fetch calls: got %d, want 1", fs.callCount())
	}
}

func TestExecutor_ReplacedDefinitionDiscardsInFlightResult(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	fs := &fakeSource{
		data:    "old-definition",
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	w := f.registerFake(t, "w1", "s1", fs)

	done := make(chan models.ExecResult, 1)
	go func() {
		done <- f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	}()
	<-fs.started

	// replace the definition while the old fetch is still running
	err := f.ex.Register("w1", models.DataSource{
		ID:     "s1",
		Type:   models.SourceStatic,
		Config: []byte(`{"data":"new-definition"}`),
	})
	if err != nil {
		t.Fatalf("re-register returned error: %v", err)
	}
	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !res.Success || res.Data != "new-definition" {
		t.Fatalf("new definition result: %+v", res)
	}

	// the old fetch completes afterwards; its result must not overwrite
	close(fs.block)
	<-done

	data, _ := f.store.Get("w1")
	if data.Data != "new-definition" {
		t.Fatalf("stale result overwrote store: got %v", data.Data)
	}
	if !fs.isClosed() {
		t.Fatal("replaced source was not closed")
	}
}

func TestExecutor_GuardSuppressesOverLimit(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	// rebuild the guard with a tight limit
	f.ex.guard = guard.New(guard.Config{MaxCalls: 1, Window: time.Minute}, logger.Nop())

	fs := &fakeSource{data: "v"}
	w := f.registerFake(t, "w1", "s1", fs)

	first := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !first.Success {
		t.Fatalf("first execution: %+v", first)
	}
	second := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !second.Suppressed {
		t.Fatalf("expected suppression, got %+v", second)
	}
	if fs.callCount() != 1 {
		t.Fatalf("fetch calls: got %d, want 1", fs.callCount())
	}
	if got := f.sink.byType(models.EventSuppressed); len(got) != 1 {
		t.Fatalf("suppressed events: got %d, want 1", len(got))
	}
}

func TestExecutor_CacheServesRepeatWithinTTL(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute}, nil)
	fs := &fakeSource{data: "cached-payload"}
	w := f.registerFake(t, "w1", "s1", fs)

	first := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !first.Success || first.FromCache {
		t.Fatalf("first execution: %+v", first)
	}
	second := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !second.FromCache || second.Data != "cached-payload" {
		t.Fatalf("second execution: %+v", second)
	}
	if fs.callCount() != 1 {
		t.Fatalf("fetch calls: got %d, want 1", fs.callCount())
	}

	// manual refresh bypasses the cache
	third := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginManual, Force: true})
	if third.FromCache {
		t.Fatalf("forced execution served from cache: %+v", third)
	}
	if fs.callCount() != 2 {
		t.Fatalf("fetch calls after force: got %d, want 2", fs.callCount())
	}
}

func TestExecutor_CacheKeyedByResolvedParams(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute}, nil)
	f.rules.RegisterRule(binding.Rule{PropertyPath: "deviceId", ParamName: "device"})

	fs := &fakeSource{data: "v"}
	w := f.registerFake(t, "w1", "s1", fs)

	w.Config = []byte(`{"deviceId":"a"}`)
	f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})

	// different params must miss the cache
	w.Config = []byte(`{"deviceId":"b"}`)
	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if res.FromCache {
		t.Fatalf("cache hit across different params: %+v", res)
	}
	if fs.callCount() != 2 {
		t.Fatalf("fetch calls: got %d, want 2", fs.callCount())
	}
}

func TestExecutor_BindingFailureSkipsFetch(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.rules.RegisterRule(binding.Rule{PropertyPath: "deviceId", ParamName: "device", Required: true})

	fs := &fakeSource{data: "v"}
	w := f.registerFake(t, "w1", "s1", fs)
	w.Config = []byte(`{}`)

	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if res.Success {
		t.Fatalf("expected binding failure, got %+v", res)
	}
	if fs.callCount() != 0 {
		t.Fatalf("fetch ran despite binding failure: %d calls", fs.callCount())
	}

	data, _ := f.store.Get("w1")
	if data.Error == "" {
		t.Fatal("binding error not surfaced in widget data")
	}
}

func TestExecutor_ReferencesMaterializedAtExecution(t *testing.T) {
	lookup := func(path string) (any, bool) {
		if path == "widgets.w0.data.deviceId" {
			return "sensor-9", true
		}
		return nil, false
	}
	f := newFixture(t, Config{}, lookup)
	f.rules.RegisterRule(binding.Rule{PropertyPath: "source", ParamName: "device"})

	fs := &fakeSource{data: "v"}
	w := f.registerFake(t, "w1", "s1", fs)
	w.Config = []byte(`{"source":"${widgets.w0.data.deviceId}"}`)

	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !res.Success {
		t.Fatalf("execution failed: %+v", res)
	}
	if got := fs.params()["device"]; got != "sensor-9" {
		t.Fatalf("materialized param: got %v, want sensor-9", got)
	}
}

func TestExecutor_FilterAndProcessApplied(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	def := models.DataSource{
		ID:            "s1",
		Type:          models.SourceStatic,
		Config:        []byte(`{"data":{"result":{"rows":[1,2,3,4]}}}`),
		FilterPath:    "result.rows",
		ProcessScript: "len(data)",
	}
	if err := f.ex.Register("w1", def); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	f.store.Create("w1", "chart")
	w := models.Widget{ID: "w1", ComponentType: "chart"}

	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !res.Success {
		t.Fatalf("execution failed: %+v", res)
	}
	if res.Data != 4 {
		t.Fatalf("processed data: got %v (%T), want 4", res.Data, res.Data)
	}
}

func TestExecutor_UnregisterWidgetClosesSources(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	fs := &fakeSource{data: "v"}
	w := f.registerFake(t, "w1", "s1", fs)

	f.ex.UnregisterWidget("w1")
	if f.ex.Pairs() != 0 {
		t.Fatalf("pairs: got %d, want 0", f.ex.Pairs())
	}
	if !fs.isClosed() {
		t.Fatal("source not closed on unregister")
	}

	res := f.ex.Execute(context.Background(), w, "s1", Options{Origin: OriginPoll})
	if !res.Skipped {
		t.Fatalf("expected skip for unregistered pair, got %+v", res)
	}
}
