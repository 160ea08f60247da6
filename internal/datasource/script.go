package datasource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"pulseboard/internal/models"
)

func init() {
	Register(models.SourceScript, newScript)
}

// scriptSource evaluates an expr program on every execution. The static
// context from the definition and the resolved parameters are in scope as
// "context" and "params".
type scriptSource struct {
	context map[string]any
	program *vm.Program
}

func newScript(def models.DataSource) (Source, error) {
	var cfg models.ScriptConfig
	if err := json.Unmarshal(def.Config, &cfg); err != nil {
		return nil, &ConfigError{SourceID: def.ID, Reason: "invalid script config: " + err.Error()}
	}
	if cfg.Script == "" {
		return nil, &ConfigError{SourceID: def.ID, Reason: "script source requires script"}
	}
	program, err := expr.Compile(cfg.Script, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &ConfigError{SourceID: def.ID, Reason: "script does not compile: " + err.Error()}
	}
	return &scriptSource{context: cfg.Context, program: program}, nil
}

func (s *scriptSource) Fetch(ctx context.Context, params map[string]any) (any, error) {
	env := map[string]any{
		"context": s.context,
		"params":  params,
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return out, nil
}

func (s *scriptSource) Close() error { return nil }
