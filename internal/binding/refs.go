package binding

import (
	"fmt"
	"strings"
)

// IsReference reports whether s is a binding reference of the form ${...}.
// References are placeholders resolved against live widget data at the
// moment a request goes out; resolving them earlier would freeze them into
// literals and break cross-widget bindings.
func IsReference(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && len(s) > 3
}

// RefPath returns the inner path of a reference: "${a.b}" yields "a.b".
// The result for a non-reference is undefined; check IsReference first.
func RefPath(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
}

// Materialize returns a copy of params with every binding reference
// expanded through lookup. An unresolvable reference is an error: a
// half-expanded request must not be sent.
func Materialize(params map[string]any, lookup func(path string) (any, bool)) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, value := range params {
		s, ok := value.(string)
		if !ok || !IsReference(s) {
			out[name] = value
			continue
		}
		path := RefPath(s)
		resolved, found := lookup(path)
		if !found {
			return nil, fmt.Errorf("binding: reference %q in param %q did not resolve", s, name)
		}
		out[name] = resolved
	}
	return out, nil
}
