package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pulseboard/internal/models"
)

func init() {
	Register(models.SourceHTTP, newHTTP)
}

const defaultHTTPTimeout = 10 * time.Second

// httpSource issues one HTTP request per execution. Resolved binding
// parameters are merged into the query string on top of the static params
// from the definition.
type httpSource struct {
	cfg    models.HTTPConfig
	client *http.Client
}

func newHTTP(def models.DataSource) (Source, error) {
	var cfg models.HTTPConfig
	if err := json.Unmarshal(def.Config, &cfg); err != nil {
		return nil, &ConfigError{SourceID: def.ID, Reason: "invalid http config: " + err.Error()}
	}
	if cfg.URL == "" {
		return nil, &ConfigError{SourceID: def.ID, Reason: "http source requires url"}
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, &ConfigError{SourceID: def.ID, Reason: "invalid url: " + err.Error()}
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	return &httpSource{cfg: cfg, client: &http.Client{Timeout: timeout}}, nil
}

func (s *httpSource) Fetch(ctx context.Context, params map[string]any) (any, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	query := u.Query()
	for key, value := range s.cfg.Params {
		query.Set(key, value)
	}
	for key, value := range params {
		query.Set(key, queryValue(value))
	}
	u.RawQuery = query.Encode()

	var body io.Reader
	if s.cfg.Body != "" {
		body = strings.NewReader(s.cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, s.cfg.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http source: %s returned %s", u.Host, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodePayload(raw), nil
}

func (s *httpSource) Close() error { return nil }

// decodePayload favors JSON; anything else comes back as a raw string.
func decodePayload(raw []byte) any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return string(raw)
}

// queryValue renders a resolved parameter for the query string. Slices
// join with commas; floats avoid exponent notation.
func queryValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = queryValue(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
