// Package remote implements an HTTP-backed threat source: each lookup is a
// query against a remote reputation endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/urlsentry/urlsentry/internal/source"
)

// Options configures an HTTP-backed source.
type Options struct {
	// Name uniquely identifies the source.
	Name string
	// Endpoint is the remote reputation API URL.
	Endpoint string
	// Method is GET (query parameters) or POST (JSON body).
	Method string
	// Headers are sent with every request.
	Headers map[string]string
	// Timeout bounds each upstream request.
	Timeout time.Duration
	// Logger may be nil to disable logging.
	Logger *slog.Logger
}

// Source queries a remote HTTP endpoint for URL reputation.
type Source struct {
	name     string
	endpoint string
	method   string
	headers  map[string]string
	client   *retryablehttp.Client
	logger   *slog.Logger
	ready    atomic.Bool
}

// New validates the static configuration and builds the source. It returns
// a *source.ConfigError for an unsupported HTTP method.
func New(opts Options) (*Source, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, source.NewConfigError(opts.Name, "unsupported HTTP method: %s", opts.Method)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 1
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = timeout

	return &Source{
		name:     opts.Name,
		endpoint: opts.Endpoint,
		method:   method,
		headers:  opts.Headers,
		client:   client,
		logger:   logger,
	}, nil
}

func (s *Source) Name() string { return s.name }

// Initialize probes the endpoint and marks the source ready regardless of
// the outcome: remote unreachability is transient and retried per-query,
// never a reason to permanently disable the source.
func (s *Source) Initialize(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, s.endpoint, nil)
	if err != nil {
		return source.NewConfigError(s.name, "invalid endpoint %s: %v", s.endpoint, err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	switch {
	case err != nil:
		s.logger.Warn("endpoint connectivity probe failed, will retry per-query",
			"source", s.name, "error", err)
	case resp.StatusCode >= http.StatusInternalServerError:
		s.logger.Warn("endpoint probe returned server error",
			"source", s.name, "status", resp.StatusCode)
		_ = resp.Body.Close()
	default:
		s.logger.Info("endpoint reachable", "source", s.name)
		_ = resp.Body.Close()
	}

	s.ready.Store(true)
	return nil
}

// Shutdown releases idle connections. Idempotent.
func (s *Source) Shutdown(ctx context.Context) error {
	s.client.HTTPClient.CloseIdleConnections()
	s.ready.Store(false)
	return nil
}

func (s *Source) Ready() bool { return s.ready.Load() }

// Lookup queries the endpoint for the URL's reputation. Every operational
// failure — network error, non-success status, malformed payload — is
// absorbed into a non-malicious verdict carrying the reason in metadata.
func (s *Source) Lookup(ctx context.Context, hostname string, port int, path string) source.Verdict {
	if !s.ready.Load() {
		return source.Unavailable(s.name, "source not ready")
	}

	req, err := s.buildRequest(ctx, hostname, port, path)
	if err != nil {
		return source.Unavailable(s.name, err.Error())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("endpoint query failed", "source", s.name, "error", err)
		return source.Unavailable(s.name, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("endpoint returned non-success status",
			"source", s.name, "status", resp.StatusCode)
		return source.NewVerdict(source.Verdict{
			DetectedBy: s.name,
			Metadata:   map[string]any{"http_status": resp.StatusCode},
		})
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		s.logger.Warn("endpoint returned malformed payload", "source", s.name, "error", err)
		return source.Unavailable(s.name, fmt.Sprintf("malformed payload: %v", err))
	}
	return s.parseResponse(data)
}

func (s *Source) buildRequest(ctx context.Context, hostname string, port int, path string) (*retryablehttp.Request, error) {
	var req *retryablehttp.Request
	var err error

	if s.method == http.MethodGet {
		q := url.Values{}
		q.Set("hostname", hostname)
		q.Set("port", strconv.Itoa(port))
		q.Set("path", path)
		req, err = retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	} else {
		body, merr := json.Marshal(map[string]any{
			"hostname": hostname,
			"port":     port,
			"path":     path,
		})
		if merr != nil {
			return nil, merr
		}
		req, err = retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	s.applyHeaders(req)
	return req, nil
}

func (s *Source) applyHeaders(req *retryablehttp.Request) {
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
}

// parseResponse tolerates the field-name variations seen across reputation
// APIs: is_malicious/malicious/threat_detected, threat_type/type,
// threat_level/level, confidence_score/confidence.
func (s *Source) parseResponse(data map[string]any) source.Verdict {
	malicious := firstBool(data, "is_malicious", "malicious", "threat_detected")

	confidence, ok := firstFloat(data, "confidence_score", "confidence")
	if !ok {
		if malicious {
			confidence = 1.0
		} else {
			confidence = 0.0
		}
	}

	var metadata map[string]any
	if m, ok := data["metadata"].(map[string]any); ok {
		metadata = m
	}

	return source.NewVerdict(source.Verdict{
		Malicious:  malicious,
		ThreatType: firstString(data, "threat_type", "type"),
		Level:      source.ParseLevel(firstString(data, "threat_level", "level")),
		Confidence: confidence,
		DetectedBy: s.name,
		Metadata:   metadata,
	})
}

func firstBool(data map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := data[k].(bool); ok {
			return v
		}
	}
	return false
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok {
			return v
		}
	}
	return ""
}

func firstFloat(data map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := data[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}
