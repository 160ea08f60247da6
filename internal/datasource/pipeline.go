package datasource

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tidwall/gjson"
)

// applyFilter extracts the configured path from a raw result. The value is
// marshaled back to JSON first so gjson walks the same shape the consumer
// would serialize. A path that matches nothing is a processing error, not
// an empty result.
func applyFilter(data any, path string) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("filter: marshal result: %w", err)
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, fmt.Errorf("filter: path %q matched nothing", path)
	}
	return res.Value(), nil
}

// compileProcess compiles a process script once per definition.
func compileProcess(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.AllowUndefinedVariables())
}

// applyProcess runs a compiled process script. The filtered result is in
// scope as "data", the resolved parameters as "params" and the owning
// widget ID as "widget". A script that returns nothing usable fails the
// execution.
func applyProcess(program *vm.Program, data any, params map[string]any, widgetID string) (any, error) {
	env := map[string]any{
		"data":   data,
		"params": params,
		"widget": widgetID,
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("process script: %w", err)
	}
	if out == nil {
		return nil, errors.New("process script returned nothing")
	}
	return out, nil
}
