package binding

import (
	"testing"
)

func TestCSV(t *testing.T) {
	tr := CSV()

	got, err := tr([]any{"a", "b", float64(3)})
	if err != nil {
		t.Fatalf("CSV returned error: %v", err)
	}
	if got != "a,b,3" {
		t.Fatalf("got %v, want a,b,3", got)
	}

	// scalar passes through as string
	got, err = tr(float64(7))
	if err != nil {
		t.Fatalf("CSV on scalar: %v", err)
	}
	if got != "7" {
		t.Fatalf("scalar: got %v, want 7", got)
	}
}

func TestMapValues(t *testing.T) {
	tr := MapValues(map[string]any{"active": 1, "idle": 0})

	got, err := tr("active")
	if err != nil {
		t.Fatalf("MapValues returned error: %v", err)
	}
	if got != 1 {
		t.Fatalf("got %v, want 1", got)
	}

	if _, err := tr("stopped"); err == nil {
		t.Fatal("expected error for unmapped value")
	}
}

func TestUnixMillisToRFC3339(t *testing.T) {
	tr := UnixMillisToRFC3339()

	got, err := tr(float64(1717243200000))
	if err != nil {
		t.Fatalf("transform returned error: %v", err)
	}
	if got != "2024-06-01T12:00:00Z" {
		t.Fatalf("got %v, want 2024-06-01T12:00:00Z", got)
	}

	// RFC 3339 strings pass through
	got, err = tr("2024-06-01T12:00:00Z")
	if err != nil {
		t.Fatalf("passthrough returned error: %v", err)
	}
	if got != "2024-06-01T12:00:00Z" {
		t.Fatalf("passthrough: got %v", got)
	}

	if _, err := tr("yesterday"); err == nil {
		t.Fatal("expected error for unparseable string")
	}
	if _, err := tr(true); err == nil {
		t.Fatal("expected error for bool input")
	}
}

func TestExprTransform(t *testing.T) {
	tr, err := Expr(`value * 2`)
	if err != nil {
		t.Fatalf("compile returned error: %v", err)
	}

	got, err := tr(float64(21))
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got != float64(42) {
		t.Fatalf("got %v, want 42", got)
	}

	if _, err := Expr(`value +`); err == nil {
		t.Fatal("expected compile error for malformed expression")
	}
}

func TestTransformByName(t *testing.T) {
	tests := []struct {
		name  string
		spec  string
		in    any
		want  any
		isNil bool
	}{
		{name: "empty spec means no transform", spec: "", isNil: true},
		{name: "csv", spec: "csv", in: []any{"a", "b"}, want: "a,b"},
		{name: "unix millis", spec: "unix_ms_to_rfc3339", in: float64(1717243200000), want: "2024-06-01T12:00:00Z"},
		{name: "map table", spec: `map:{"on": 1}`, in: "on", want: 1},
		{name: "expr", spec: "expr:value * 10", in: float64(4), want: float64(40)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tr, err := TransformByName(tt.spec)
			if err != nil {
				t.Fatalf("TransformByName(%q): %v", tt.spec, err)
			}
			if tt.isNil {
				if tr != nil {
					t.Fatal("expected nil transform")
				}
				return
			}
			got, err := tr(tt.in)
			if err != nil {
				t.Fatalf("transform returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransformByName_Invalid(t *testing.T) {
	if _, err := TransformByName("reverse"); err == nil {
		t.Fatal("expected error for unknown spec")
	}
	if _, err := TransformByName(`map:not-json`); err == nil {
		t.Fatal("expected error for malformed map table")
	}
	if _, err := TransformByName(`expr:value +`); err == nil {
		t.Fatal("expected error for malformed expression")
	}
}

func TestNewRule(t *testing.T) {
	r, err := NewRule("options.limit", "limit", true, "expr:value * 2")
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	if r.PropertyPath != "options.limit" || r.ParamName != "limit" || !r.Required {
		t.Fatalf("unexpected rule: %+v", r)
	}
	if r.TransformName != "expr:value * 2" {
		t.Fatalf("transform name = %q", r.TransformName)
	}
	got, err := r.Transform(float64(5))
	if err != nil || got != float64(10) {
		t.Fatalf("transform: got %v err %v", got, err)
	}

	if _, err := NewRule("", "limit", false, ""); err == nil {
		t.Fatal("expected error for empty property path")
	}
	if _, err := NewRule("options.limit", "", false, ""); err == nil {
		t.Fatal("expected error for empty param name")
	}
	if _, err := NewRule("options.limit", "limit", false, "bogus"); err == nil {
		t.Fatal("expected error for bad transform spec")
	}
}
