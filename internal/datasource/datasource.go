// Package datasource fetches widget data. Each data source definition is
// built into a Source through a type registry; the Executor wraps a Source
// with binding resolution, guard checks, caching and result routing.
package datasource

import (
	"context"
	"fmt"
	"sync"

	"pulseboard/internal/models"
)

// Source fetches or computes one piece of widget data. Implementations
// must be safe for sequential reuse; the executor serializes calls per
// (widget, source) pair.
type Source interface {
	Fetch(ctx context.Context, params map[string]any) (any, error)
	Close() error
}

// Factory builds a Source from a definition.
type Factory func(def models.DataSource) (Source, error)

// ConfigError reports a malformed data source definition. Registration of
// a widget carrying one is rejected outright.
type ConfigError struct {
	SourceID string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("data source %q: %s", e.SourceID, e.Reason)
}

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes a source type available. Registering an existing type
// replaces its factory.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[typ] = f
}

// Types returns the registered source type names, unordered.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for typ := range factories {
		out = append(out, typ)
	}
	return out
}

// New builds the Source for def. Unknown types and malformed definitions
// come back as *ConfigError.
func New(def models.DataSource) (Source, error) {
	registryMu.RLock()
	factory, ok := factories[def.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &ConfigError{SourceID: def.ID, Reason: fmt.Sprintf("unknown type %q", def.Type)}
	}
	return factory(def)
}

// Validate builds def's source and process script, then discards them.
// A definition that passes Validate will be accepted by Executor.Register.
func Validate(def models.DataSource) error {
	src, err := New(def)
	if err != nil {
		return err
	}
	_ = src.Close()
	if def.ProcessScript != "" {
		if _, err := compileProcess(def.ProcessScript); err != nil {
			return &ConfigError{SourceID: def.ID, Reason: "process script does not compile: " + err.Error()}
		}
	}
	return nil
}
