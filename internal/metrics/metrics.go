package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	requestsTotal atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	checkTimeouts atomic.Uint64
	rateLimited   atomic.Uint64

	lookupsBySource sync.Map // string -> *atomic.Uint64
	errorsBySource  sync.Map // string -> *atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncRequest() {
	if c == nil {
		return
	}
	c.requestsTotal.Add(1)
}

func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Add(1)
}

func (c *Collector) IncCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Add(1)
}

func (c *Collector) IncCheckTimeout() {
	if c == nil {
		return
	}
	c.checkTimeouts.Add(1)
}

func (c *Collector) IncRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Add(1)
}

func (c *Collector) IncLookup(source string) {
	if c == nil {
		return
	}
	incMapCounter(&c.lookupsBySource, source)
}

func (c *Collector) IncLookupError(source string) {
	if c == nil {
		return
	}
	incMapCounter(&c.errorsBySource, source)
}

func incMapCounter(m *sync.Map, key string) {
	if key == "" {
		key = "unknown"
	}
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

type HandlerOptions struct {
	CacheEntries func() int
	SourcesReady func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP urlsentry_up Whether the urlsentry server is running.\n")
		fmt.Fprint(w, "# TYPE urlsentry_up gauge\n")
		fmt.Fprint(w, "urlsentry_up 1\n")

		fmt.Fprint(w, "# HELP urlsentry_uptime_seconds Seconds since process start.\n")
		fmt.Fprint(w, "# TYPE urlsentry_uptime_seconds gauge\n")
		fmt.Fprintf(w, "urlsentry_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP urlsentry_requests_total Total URL check requests received.\n")
		fmt.Fprint(w, "# TYPE urlsentry_requests_total counter\n")
		fmt.Fprintf(w, "urlsentry_requests_total %d\n", c.requestsTotal.Load())

		fmt.Fprint(w, "# HELP urlsentry_cache_hits_total Lookups served from the result cache.\n")
		fmt.Fprint(w, "# TYPE urlsentry_cache_hits_total counter\n")
		fmt.Fprintf(w, "urlsentry_cache_hits_total %d\n", c.cacheHits.Load())

		fmt.Fprint(w, "# HELP urlsentry_cache_misses_total Lookups that missed the result cache.\n")
		fmt.Fprint(w, "# TYPE urlsentry_cache_misses_total counter\n")
		fmt.Fprintf(w, "urlsentry_cache_misses_total %d\n", c.cacheMisses.Load())

		fmt.Fprint(w, "# HELP urlsentry_check_timeouts_total URL checks that exceeded the overall deadline.\n")
		fmt.Fprint(w, "# TYPE urlsentry_check_timeouts_total counter\n")
		fmt.Fprintf(w, "urlsentry_check_timeouts_total %d\n", c.checkTimeouts.Load())

		fmt.Fprint(w, "# HELP urlsentry_rate_limited_total Requests rejected by the rate limiter.\n")
		fmt.Fprint(w, "# TYPE urlsentry_rate_limited_total counter\n")
		fmt.Fprintf(w, "urlsentry_rate_limited_total %d\n", c.rateLimited.Load())

		writeBySource(w, &c.lookupsBySource,
			"urlsentry_source_lookups_total", "Lookups issued per source.")
		writeBySource(w, &c.errorsBySource,
			"urlsentry_source_errors_total", "Lookups per source that timed out or failed.")

		if opts.CacheEntries != nil {
			fmt.Fprint(w, "# HELP urlsentry_cache_entries Live entries in the result cache.\n")
			fmt.Fprint(w, "# TYPE urlsentry_cache_entries gauge\n")
			fmt.Fprintf(w, "urlsentry_cache_entries %d\n", opts.CacheEntries())
		}
		if opts.SourcesReady != nil {
			fmt.Fprint(w, "# HELP urlsentry_sources_ready Sources currently ready to serve lookups.\n")
			fmt.Fprint(w, "# TYPE urlsentry_sources_ready gauge\n")
			fmt.Fprintf(w, "urlsentry_sources_ready %d\n", opts.SourcesReady())
		}
	})
}

func writeBySource(w http.ResponseWriter, m *sync.Map, name, help string) {
	sources := snapshotKeys(m)
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, s := range sources {
		ptr, _ := m.Load(s)
		n := uint64(0)
		if ptr != nil {
			n = ptr.(*atomic.Uint64).Load()
		}
		fmt.Fprintf(w, "%s{source=\"%s\"} %d\n", name, escapeLabelValue(s), n)
	}
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
