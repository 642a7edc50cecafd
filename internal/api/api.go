// Package api exposes the URL reputation service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/urlsentry/urlsentry/internal/checker"
	"github.com/urlsentry/urlsentry/internal/metrics"
	"github.com/urlsentry/urlsentry/internal/urlcheck"
)

// Options configures the HTTP surface.
type Options struct {
	Checker *checker.Checker
	Metrics *metrics.Collector
	// Logger may be nil to disable logging.
	Logger *slog.Logger
	// MaxURLLength caps the reconstructed URL; longer requests get 414.
	MaxURLLength int
	// OverallTimeout bounds each lookup request.
	OverallTimeout time.Duration
	// RateLimit, when non-nil, throttles lookup requests per client IP.
	RateLimit *RateLimiter
}

// App holds the handlers and their dependencies.
type App struct {
	checker        *checker.Checker
	metrics        *metrics.Collector
	logger         *slog.Logger
	maxURLLength   int
	overallTimeout time.Duration
	limiter        *RateLimiter
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxLen := opts.MaxURLLength
	if maxLen <= 0 {
		maxLen = urlcheck.MaxURLLength
	}
	timeout := opts.OverallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.New()
	}
	return &App{
		checker:        opts.Checker,
		metrics:        collector,
		logger:         logger,
		maxURLLength:   maxLen,
		overallTimeout: timeout,
		limiter:        opts.RateLimit,
	}
}

// Router builds the route table. Lookup routes carry the rate limiter;
// health and metrics do not.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.requestID)
	r.Use(a.timing)

	r.Group(func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Middleware(a.metrics))
		}
		r.Get("/urlinfo/1/{hostport}", a.handleURLInfo)
		r.Get("/urlinfo/1/{hostport}/*", a.handleURLInfo)
	})

	r.Get("/urlinfo/health", a.handleSourceHealth)
	r.Get("/health", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", a.metrics.Handler(metrics.HandlerOptions{
		CacheEntries: a.checker.CacheLen,
		SourcesReady: func() int { return a.checker.Status().ReadyCount },
	}))
	return r
}

// URLCheckResponse is the lookup response body.
type URLCheckResponse struct {
	URL             string   `json:"url"`
	IsMalicious     bool     `json:"is_malicious"`
	ThreatLevel     string   `json:"threat_level"`
	ThreatType      string   `json:"threat_type,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	Cached          bool     `json:"cached"`
	SourcesQueried  []string `json:"sources_queried"`
	ResponseTimeMS  float64  `json:"response_time_ms"`
	Timestamp       string   `json:"timestamp"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// handleURLInfo serves GET /urlinfo/1/{hostname:port}/{original_path}.
// The checked URL is reconstructed from the route: the scheme is inferred
// from the port, the path from the wildcard remainder plus query string.
func (a *App) handleURLInfo(w http.ResponseWriter, r *http.Request) {
	hostport := chi.URLParam(r, "hostport")

	hostname, port, err := splitHostPort(hostport)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	path := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	fullURL := reconstructURL(hostname, port, path)
	if len(fullURL) > a.maxURLLength {
		a.writeError(w, r, http.StatusRequestURITooLong,
			fmt.Sprintf("URL exceeds maximum length of %d", a.maxURLLength))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.overallTimeout)
	defer cancel()

	result, err := a.checker.CheckURL(ctx, hostname, port, path)
	if err != nil {
		if errors.Is(err, checker.ErrTimeout) {
			a.writeError(w, r, http.StatusServiceUnavailable, "url check timed out")
			return
		}
		a.logger.Error("url check failed", "url", fullURL, "error", err,
			"request_id", requestIDFrom(r))
		a.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	sources := result.SourcesQueried
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, URLCheckResponse{
		URL:             fullURL,
		IsMalicious:     result.Malicious,
		ThreatLevel:     result.Level.String(),
		ThreatType:      result.ThreatType,
		ConfidenceScore: result.Confidence,
		Cached:          result.Cached,
		SourcesQueried:  sources,
		ResponseTimeMS:  float64(result.Elapsed.Microseconds()) / 1000.0,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSourceHealth reports per-source readiness.
func (a *App) handleSourceHealth(w http.ResponseWriter, r *http.Request) {
	st := a.checker.Status()
	code := http.StatusOK
	if !st.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady is the readiness probe: 200 while at least one source can
// serve lookups, 503 otherwise.
func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.checker.Ready() {
		writeText(w, http.StatusOK, "ready")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "no sources ready")
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: requestIDFrom(r)})
}

// splitHostPort parses "hostname:port" from the route. The port defaults to
// 80 when absent; the split is on the last colon so IPv6-ish hosts with
// embedded colons still parse.
func splitHostPort(hostport string) (string, int, error) {
	if hostport == "" {
		return "", 0, fmt.Errorf("hostname is required")
	}
	hostname := hostport
	port := 80
	if i := strings.LastIndex(hostport, ":"); i >= 0 {
		hostname = hostport[:i]
		p, err := strconv.Atoi(hostport[i+1:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q", hostport[i+1:])
		}
		port = p
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if len(hostname) < 2 {
		return "", 0, fmt.Errorf("hostname %q is too short", hostname)
	}
	if !urlcheck.ValidPort(port) {
		return "", 0, fmt.Errorf("port %d out of range", port)
	}
	return hostname, port, nil
}

func reconstructURL(hostname string, port int, path string) string {
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	netloc := hostname
	if port != 80 && port != 443 {
		netloc = fmt.Sprintf("%s:%d", hostname, port)
	}
	return scheme + "://" + netloc + path
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg+"\n")
}
