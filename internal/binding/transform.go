package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// Transform converts a bound configuration value before it enters the
// parameter set.
type Transform func(value any) (any, error)

// Transform specs understood by TransformByName.
const (
	specCSV        = "csv"
	specUnixMillis = "unix_ms_to_rfc3339"
	specMapPrefix  = "map:"
	specExprPrefix = "expr:"
)

// TransformByName builds a Transform from its declarative spec: "csv",
// "unix_ms_to_rfc3339", "map:<json object>" or "expr:<expression>". The
// empty spec means no transform.
func TransformByName(spec string) (Transform, error) {
	switch {
	case spec == "":
		return nil, nil
	case spec == specCSV:
		return CSV(), nil
	case spec == specUnixMillis:
		return UnixMillisToRFC3339(), nil
	case strings.HasPrefix(spec, specMapPrefix):
		var table map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(spec, specMapPrefix)), &table); err != nil {
			return nil, fmt.Errorf("transform %q: %w", spec, err)
		}
		return MapValues(table), nil
	case strings.HasPrefix(spec, specExprPrefix):
		return Expr(strings.TrimPrefix(spec, specExprPrefix))
	default:
		return nil, fmt.Errorf("unknown transform %q", spec)
	}
}

// NewRule builds a Rule with its transform resolved from spec.
func NewRule(propertyPath, paramName string, required bool, transformSpec string) (Rule, error) {
	if propertyPath == "" || paramName == "" {
		return Rule{}, errors.New("binding: rule needs a property path and a param name")
	}
	tf, err := TransformByName(transformSpec)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		PropertyPath:  propertyPath,
		ParamName:     paramName,
		Required:      required,
		Transform:     tf,
		TransformName: transformSpec,
	}, nil
}

// CSV joins a slice value into a comma-separated string. Scalars pass
// through as their string form.
func CSV() Transform {
	return func(value any) (any, error) {
		items, ok := value.([]any)
		if !ok {
			return stringify(value), nil
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ","), nil
	}
}

// MapValues translates enum-style values through table. Values without an
// entry are an error so typos surface instead of leaking raw enums.
func MapValues(table map[string]any) Transform {
	return func(value any) (any, error) {
		key := stringify(value)
		mapped, ok := table[key]
		if !ok {
			return nil, fmt.Errorf("no mapping for value %q", key)
		}
		return mapped, nil
	}
}

// UnixMillisToRFC3339 converts a numeric unix-millisecond timestamp into an
// RFC 3339 UTC string. Strings already in RFC 3339 form pass through.
func UnixMillisToRFC3339() Transform {
	return func(value any) (any, error) {
		switch v := value.(type) {
		case float64:
			return time.UnixMilli(int64(v)).UTC().Format(time.RFC3339), nil
		case int64:
			return time.UnixMilli(v).UTC().Format(time.RFC3339), nil
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return nil, fmt.Errorf("not an RFC 3339 timestamp: %q", v)
			}
			return v, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to a timestamp", value)
		}
	}
}

// Expr compiles src into a transform. The incoming value is bound as
// "value" in the expression environment.
func Expr(src string) (Transform, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling transform: %w", err)
	}
	return func(value any) (any, error) {
		return expr.Run(program, map[string]any{"value": value})
	}, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
