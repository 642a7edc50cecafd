package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/urlsentry/urlsentry/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestID assigns each request a UUID (or honors the client-supplied
// X-Request-ID) and echoes it back in the response.
func (a *App) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// timing records the request counter and stamps the wall time spent in the
// handler onto the response.
func (a *App) timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		a.metrics.IncRequest()
		// Headers must be set before the handler writes the status line.
		tw := &timedWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(tw, r)
		a.logger.Debug("request served",
			"method", r.Method, "path", r.URL.Path,
			"elapsed", time.Since(start), "request_id", requestIDFrom(r))
	})
}

type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timedWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.Header().Set("X-Response-Time",
			fmt.Sprintf("%.3fms", float64(time.Since(w.start).Microseconds())/1000.0))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// RateLimiter throttles requests per client IP with a token bucket each.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) limiterFor(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.clients[clientIP]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.clients[clientIP] = lim
	}
	return lim
}

// Middleware rejects over-limit requests with 429.
func (l *RateLimiter) Middleware(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.limiterFor(clientIP(r)).Allow() {
				collector.IncRateLimited()
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:     "rate limit exceeded",
					RequestID: requestIDFrom(r),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
