package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"pulseboard/internal/binding"
	"pulseboard/internal/guard"
	"pulseboard/internal/logger"
	"pulseboard/internal/models"
	"pulseboard/internal/store"
)

// Execution origins, recorded with events and used to decide log volume.
const (
	OriginPoll     = "poll"
	OriginManual   = "manual"
	OriginTrigger  = "trigger"
	OriginRegister = "register"
)

// EventSink receives engine diagnostics. Implementations must not block.
type EventSink interface {
	Record(e models.EngineEvent)
}

// Options control a single execution.
type Options struct {
	Force  bool   // bypass the freshness cache
	Origin string // poll | manual | trigger | register
}

// Config tunes the Executor.
type Config struct {
	CacheTTL time.Duration // 0 disables the freshness cache
}

// pairKey identifies one (widget, data source) pair.
type pairKey struct {
	widgetID string
	sourceID string
}

// pairState is the executor's bookkeeping for one pair. gen increments
// when the definition is replaced, so a fetch started against an old
// definition cannot land its result.
type pairState struct {
	def     models.DataSource
	source  Source
	program *vm.Program
	gen     uint64

	inFlight   bool
	lastKey    string
	lastResult models.ExecResult
	lastDone   time.Time
}

// Executor turns data source definitions into guarded executions and lands
// the outcomes in the widget data store. At most one execution per pair is
// in flight at any time; a second request while one runs is skipped, not
// queued.
type Executor struct {
	guard    *guard.Guard
	binding  *binding.Engine
	store    *store.Store
	events   EventSink
	log      *logger.Logger
	cacheTTL time.Duration
	lookup   func(path string) (any, bool)

	mu    sync.Mutex
	pairs map[pairKey]*pairState

	now func() time.Time
}

// NewExecutor wires an Executor. lookup resolves binding references
// (${...}) against live widget data; nil makes every reference fail.
func NewExecutor(g *guard.Guard, b *binding.Engine, st *store.Store, events EventSink,
	log *logger.Logger, cfg Config, lookup func(path string) (any, bool)) *Executor {
	if lookup == nil {
		lookup = func(string) (any, bool) { return nil, false }
	}
	return &Executor{
		guard:    g,
		binding:  b,
		store:    st,
		events:   events,
		log:      log,
		cacheTTL: cfg.CacheTTL,
		lookup:   lookup,
		pairs:    make(map[pairKey]*pairState),
		now:      time.Now,
	}
}

// Register builds and tracks the source for def under widgetID. This is
// also the validation step: a definition the registry rejects never makes
// it into the engine. Re-registering a pair replaces its definition and
// invalidates any execution still in flight against the old one.
func (ex *Executor) Register(widgetID string, def models.DataSource) error {
	source, err := New(def)
	if err != nil {
		return err
	}
	var program *vm.Program
	if def.ProcessScript != "" {
		program, err = compileProcess(def.ProcessScript)
		if err != nil {
			_ = source.Close()
			return &ConfigError{SourceID: def.ID, Reason: "process script does not compile: " + err.Error()}
		}
	}

	key := pairKey{widgetID: widgetID, sourceID: def.ID}
	ex.mu.Lock()
	var replaced Source
	gen := uint64(1)
	if old := ex.pairs[key]; old != nil {
		gen = old.gen + 1
		replaced = old.source
	}
	ex.pairs[key] = &pairState{def: def, source: source, program: program, gen: gen}
	ex.mu.Unlock()

	if replaced != nil {
		_ = replaced.Close()
	}
	return nil
}

// UnregisterWidget drops every pair belonging to widgetID, closes their
// sources and clears their guard state.
func (ex *Executor) UnregisterWidget(widgetID string) {
	ex.mu.Lock()
	var closers []Source
	var keys []pairKey
	for key, ps := range ex.pairs {
		if key.widgetID == widgetID {
			closers = append(closers, ps.source)
			keys = append(keys, key)
			delete(ex.pairs, key)
		}
	}
	ex.mu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	for _, key := range keys {
		ex.guard.Forget(guardKey(key.widgetID, key.sourceID))
	}
}

// Pairs reports how many (widget, source) pairs are tracked.
func (ex *Executor) Pairs() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return len(ex.pairs)
}

// Close drops all pairs and closes their sources.
func (ex *Executor) Close() {
	ex.mu.Lock()
	var closers []Source
	for key, ps := range ex.pairs {
		closers = append(closers, ps.source)
		delete(ex.pairs, key)
	}
	ex.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
}

// Execute runs one data source for w and routes the outcome. The returned
// result is also handed to the widget data store unless it was suppressed,
// skipped, served from cache, or outlived its definition.
func (ex *Executor) Execute(ctx context.Context, w models.Widget, sourceID string, opts Options) models.ExecResult {
	start := ex.now()
	res := models.ExecResult{
		ExecutionID: uuid.NewString(),
		WidgetID:    w.ID,
		SourceID:    sourceID,
		Timestamp:   start,
	}

	gkey := guardKey(w.ID, sourceID)
	if !ex.guard.Enter(gkey) {
		res.Suppressed = true
		res.Err = "suppressed by execution guard"
		ex.record(models.EventSuppressed, w.ID, sourceID,
			"execution suppressed by guard", map[string]any{"origin": opts.Origin})
		return res
	}
	defer ex.guard.Exit(gkey)

	key := pairKey{widgetID: w.ID, sourceID: sourceID}
	ex.mu.Lock()
	ps := ex.pairs[key]
	if ps == nil {
		ex.mu.Unlock()
		res.Skipped = true
		res.Err = "data source not registered"
		return res
	}
	if ps.inFlight {
		ex.mu.Unlock()
		res.Skipped = true
		return res
	}
	ps.inFlight = true
	gen := ps.gen
	def := ps.def
	source := ps.source
	program := ps.program
	cachedKey, cachedRes, cachedDone := ps.lastKey, ps.lastResult, ps.lastDone
	ex.mu.Unlock()

	defer ex.clearInFlight(ps)

	params, err := ex.binding.Resolve(w.ComponentType, w.Config)
	if err == nil {
		params, err = binding.Materialize(params, ex.lookup)
	}
	if err != nil {
		return ex.land(ps, key, gen, res, start, "", nil, err, opts)
	}

	paramsKey := canonicalParams(params)
	if !opts.Force && ex.cacheTTL > 0 && cachedRes.Success &&
		cachedKey == paramsKey && start.Sub(cachedDone) < ex.cacheTTL {
		res.Success = true
		res.Data = cachedRes.Data
		res.FromCache = true
		return res
	}

	ex.store.SetLoading(w.ID, true)
	data, ferr := source.Fetch(ctx, params)
	if ferr == nil && def.FilterPath != "" {
		data, ferr = applyFilter(data, def.FilterPath)
	}
	if ferr == nil && program != nil {
		data, ferr = applyProcess(program, data, params, w.ID)
	}
	return ex.land(ps, key, gen, res, start, paramsKey, data, ferr, opts)
}

// land finalizes a result: timestamps it, caches it, and applies it to the
// store unless the pair was replaced or removed while the fetch ran.
func (ex *Executor) land(ps *pairState, key pairKey, gen uint64, res models.ExecResult,
	start time.Time, paramsKey string, data any, ferr error, opts Options) models.ExecResult {

	end := ex.now()
	res.Timestamp = end
	res.DurationMs = end.Sub(start).Milliseconds()
	if ferr != nil {
		res.Err = ferr.Error()
	} else {
		res.Success = true
		res.Data = data
	}

	ex.mu.Lock()
	stale := ex.pairs[key] != ps || ps.gen != gen
	if !stale && res.Success && paramsKey != "" {
		ps.lastKey = paramsKey
		ps.lastResult = res
		ps.lastDone = end
	}
	ex.mu.Unlock()

	if stale {
		ex.log.Debugw("stale_result_discarded",
			"widget_id", res.WidgetID, "source_id", res.SourceID, "execution_id", res.ExecutionID)
		return res
	}

	ex.store.ApplyResult(res)

	switch {
	case !res.Success:
		ex.record(models.EventError, res.WidgetID, res.SourceID,
			fmt.Sprintf("execution failed: %s", res.Err),
			map[string]any{"origin": opts.Origin, "duration_ms": res.DurationMs})
		ex.log.Warnw("execution_failed",
			"widget_id", res.WidgetID, "source_id", res.SourceID,
			"origin", opts.Origin, "err", res.Err)
	case opts.Origin == OriginManual || opts.Origin == OriginTrigger:
		ex.record(models.EventExecute, res.WidgetID, res.SourceID,
			"execution completed", map[string]any{"origin": opts.Origin, "duration_ms": res.DurationMs})
	default:
		ex.log.Debugw("execution_completed",
			"widget_id", res.WidgetID, "source_id", res.SourceID,
			"origin", opts.Origin, "duration_ms", res.DurationMs)
	}
	return res
}

func (ex *Executor) clearInFlight(ps *pairState) {
	ex.mu.Lock()
	ps.inFlight = false
	ex.mu.Unlock()
}

func (ex *Executor) record(typ, widgetID, sourceID, desc string, meta map[string]any) {
	if ex.events == nil {
		return
	}
	ex.events.Record(models.EngineEvent{
		OccurredAt:  ex.now(),
		Type:        typ,
		WidgetID:    widgetID,
		SourceID:    sourceID,
		Description: desc,
		Metadata:    meta,
	})
}

func guardKey(widgetID, sourceID string) string {
	return "execute:" + widgetID + ":" + sourceID
}

// canonicalParams renders params deterministically for cache comparison.
// Map keys marshal in sorted order, so equal maps yield equal strings.
func canonicalParams(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}
