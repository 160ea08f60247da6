// Package binding maps widget configuration properties onto outgoing
// request parameters through runtime-registered rules. Rules are data, not
// code: they can be added, replaced and removed while the engine runs, and
// take effect on the next resolution.
package binding

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Rule declares that the widget property at PropertyPath appears in an
// outgoing request as ParamName.
type Rule struct {
	PropertyPath  string    `json:"property_path"`       // gjson path into the widget config
	ParamName     string    `json:"param_name"`          // key in the resolved parameter set
	Required      bool      `json:"required"`            // missing property aborts the resolution
	Transform     Transform `json:"-"`                   // optional value conversion, nil passes through
	TransformName string    `json:"transform,omitempty"` // spec Transform was built from, for listings
}

// TriggerRule declares that a change to PropertyPath re-binds and
// re-executes the widget's sources once Debounce of quiet time has passed.
type TriggerRule struct {
	PropertyPath string        `json:"property_path"`
	Enabled      bool          `json:"enabled"`
	Debounce     time.Duration `json:"debounce"`
}

// Error reports a required property that had no value at resolve time.
type Error struct {
	PropertyPath string
	ParamName    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("binding: required property %q has no value (param %q)", e.PropertyPath, e.ParamName)
}

// Engine holds the active rule tables. Global rules apply to every
// component type; type-scoped rules shadow a global rule on the same
// property path. Safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	global   map[string]Rule            // property path -> rule
	byType   map[string]map[string]Rule // component type -> property path -> rule
	triggers map[string]TriggerRule     // property path -> trigger
}

func NewEngine() *Engine {
	return &Engine{
		global:   make(map[string]Rule),
		byType:   make(map[string]map[string]Rule),
		triggers: make(map[string]TriggerRule),
	}
}

// RegisterRule installs or replaces a global rule.
func (e *Engine) RegisterRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global[r.PropertyPath] = r
}

// RegisterTypeRule installs or replaces a rule scoped to one component type.
func (e *Engine) RegisterTypeRule(componentType string, r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.byType[componentType]
	if rules == nil {
		rules = make(map[string]Rule)
		e.byType[componentType] = rules
	}
	rules[r.PropertyPath] = r
}

// RemoveRule drops the global rule for propertyPath, if any.
func (e *Engine) RemoveRule(propertyPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.global, propertyPath)
}

// RemoveTypeRule drops the type-scoped rule for propertyPath, if any.
func (e *Engine) RemoveTypeRule(componentType, propertyPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rules := e.byType[componentType]; rules != nil {
		delete(rules, propertyPath)
		if len(rules) == 0 {
			delete(e.byType, componentType)
		}
	}
}

// RegisterTrigger installs or replaces a trigger rule.
func (e *Engine) RegisterTrigger(t TriggerRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers[t.PropertyPath] = t
}

// RemoveTrigger drops the trigger rule for propertyPath, if any.
func (e *Engine) RemoveTrigger(propertyPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.triggers, propertyPath)
}

// Rules returns the effective rule table for componentType, ordered by
// property path. Type-scoped rules shadow global ones.
func (e *Engine) Rules(componentType string) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	merged := make(map[string]Rule, len(e.global))
	for path, r := range e.global {
		merged[path] = r
	}
	for path, r := range e.byType[componentType] {
		merged[path] = r
	}

	out := make([]Rule, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyPath < out[j].PropertyPath })
	return out
}

// Triggers returns the active trigger table, ordered by property path.
func (e *Engine) Triggers() []TriggerRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]TriggerRule, 0, len(e.triggers))
	for _, t := range e.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyPath < out[j].PropertyPath })
	return out
}

// Resolve computes the outgoing parameter set for one widget configuration.
// Config fields with no rule are ignored; rules whose property is absent
// contribute nothing unless Required, which aborts with *Error. A value
// that is a binding reference (${...}) is carried through verbatim, never
// transformed and never replaced by a literal.
func (e *Engine) Resolve(componentType string, cfg []byte) (map[string]any, error) {
	rules := e.Rules(componentType)
	params := make(map[string]any, len(rules))

	for _, r := range rules {
		res := gjson.GetBytes(cfg, r.PropertyPath)
		if !res.Exists() || res.Type == gjson.Null {
			if r.Required {
				return nil, &Error{PropertyPath: r.PropertyPath, ParamName: r.ParamName}
			}
			continue
		}

		value := res.Value()
		if s, ok := value.(string); ok && IsReference(s) {
			params[r.ParamName] = s
			continue
		}
		if r.Transform != nil {
			converted, err := r.Transform(value)
			if err != nil {
				return nil, fmt.Errorf("binding: transform for %q: %w", r.PropertyPath, err)
			}
			value = converted
		}
		params[r.ParamName] = value
	}
	return params, nil
}

// ChangedTriggers returns the enabled trigger rules whose property differs
// between the old and new configuration, ordered by property path.
func (e *Engine) ChangedTriggers(oldCfg, newCfg []byte) []TriggerRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []TriggerRule
	for _, t := range e.triggers {
		if !t.Enabled {
			continue
		}
		before := gjson.GetBytes(oldCfg, t.PropertyPath)
		after := gjson.GetBytes(newCfg, t.PropertyPath)
		if before.Raw != after.Raw {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyPath < out[j].PropertyPath })
	return out
}
