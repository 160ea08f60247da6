package datasource

import (
	"context"
	"encoding/json"

	"pulseboard/internal/models"
)

func init() {
	Register(models.SourceStatic, newStatic)
}

// staticSource returns a fixed payload on every execution. Useful for
// placeholder widgets and tests.
type staticSource struct {
	data any
}

func newStatic(def models.DataSource) (Source, error) {
	var cfg models.StaticConfig
	if len(def.Config) > 0 {
		if err := json.Unmarshal(def.Config, &cfg); err != nil {
			return nil, &ConfigError{SourceID: def.ID, Reason: "invalid static config: " + err.Error()}
		}
	}
	var data any
	if len(cfg.Data) > 0 {
		if err := json.Unmarshal(cfg.Data, &data); err != nil {
			return nil, &ConfigError{SourceID: def.ID, Reason: "static data is not valid JSON: " + err.Error()}
		}
	}
	return &staticSource{data: data}, nil
}

func (s *staticSource) Fetch(ctx context.Context, params map[string]any) (any, error) {
	return s.data, nil
}

func (s *staticSource) Close() error { return nil }
