package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pulseboard/internal/models"
)

// fakeSource is a controllable Source registered under type "fake". Tests
// stage one per source ID before calling Register on the executor.
type fakeSource struct {
	mu         sync.Mutex
	data       any
	err        error
	calls      int
	closed     bool
	lastParams map[string]any

	started   chan struct{} // closed when Fetch is first entered
	startOnce sync.Once
	block     chan struct{} // Fetch waits for close, when non-nil
}

func (f *fakeSource) Fetch(ctx context.Context, params map[string]any) (any, error) {
	f.mu.Lock()
	f.calls++
	f.lastParams = params
	block := f.block
	f.mu.Unlock()

	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if block != nil {
		<-block
	}
	return f.data, f.err
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSource) params() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

var (
	fakesMu sync.Mutex
	fakes   = make(map[string]*fakeSource)
)

func init() {
	Register("fake", func(def models.DataSource) (Source, error) {
		fakesMu.Lock()
		defer fakesMu.Unlock()
		fs, ok := fakes[def.ID]
		if !ok {
			return nil, &ConfigError{SourceID: def.ID, Reason: "no fake staged"}
		}
		return fs, nil
	})
}

func stageFake(t *testing.T, sourceID string, fs *fakeSource) {
	t.Helper()
	fakesMu.Lock()
	fakes[sourceID] = fs
	fakesMu.Unlock()
	t.Cleanup(func() {
		fakesMu.Lock()
		delete(fakes, sourceID)
		fakesMu.Unlock()
	})
}

func TestNew_UnknownTypeIsConfigError(t *testing.T) {
	_, err := New(models.DataSource{ID: "s1", Type: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.SourceID != "s1" {
		t.Fatalf("error source: got %q, want s1", cfgErr.SourceID)
	}
}

func TestStaticSource_ReturnsConfiguredData(t *testing.T) {
	src, err := New(models.DataSource{
		ID:     "s1",
		Type:   models.SourceStatic,
		Config: []byte(`{"data":{"rows":[1,2,3]}}`),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer src.Close()

	got, err := src.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	payload, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("payload type: got %T", got)
	}
	rows, ok := payload["rows"].([]any)
	if !ok || len(rows) != 3 {
		t.Fatalf("rows: got %v", payload["rows"])
	}
}

func TestStaticSource_RejectsMalformedData(t *testing.T) {
	_, err := New(models.DataSource{
		ID:     "s1",
		Type:   models.SourceStatic,
		Config: []byte(`{"data":{broken}`),
	})
	if err == nil {
		t.Fatal("expected error for malformed static config")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestScriptSource_EvaluatesWithParamsAndContext(t *testing.T) {
	src, err := New(models.DataSource{
		ID:     "s1",
		Type:   models.SourceScript,
		Config: []byte(`{"script":"context.base + params.offset","context":{"base":40}}`),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer src.Close()

	got, err := src.Fetch(context.Background(), map[string]any{"offset": float64(2)})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if got != float64(42) {
		t.Fatalf("got %v (%T), want 42", got, got)
	}
}

func TestScriptSource_CompileErrorAtRegistration(t *testing.T) {
	_, err := New(models.DataSource{
		ID:     "s1",
		Type:   models.SourceScript,
		Config: []byte(`{"script":"1 +"}`),
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}

func TestScriptSource_RequiresScript(t *testing.T) {
	_, err := New(models.DataSource{
		ID:     "s1",
		Type:   models.SourceScript,
		Config: []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected error for empty script")
	}
}
