// Package checker implements the aggregation engine: it fans a single URL
// lookup out to every ready source concurrently, merges their verdicts, and
// caches merged results. One slow or dead source never stalls or fails the
// overall query.
package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/urlsentry/urlsentry/internal/cache"
	"github.com/urlsentry/urlsentry/internal/metrics"
	"github.com/urlsentry/urlsentry/internal/source"
)

// ErrTimeout is returned when the overall per-query deadline elapses before
// the merge completes. It is the only operational condition CheckURL
// surfaces as an error; everything else degrades to data.
var ErrTimeout = errors.New("url check timed out")

// Config carries the aggregation tunables.
type Config struct {
	// SourceTimeout bounds each individual source lookup.
	SourceTimeout time.Duration
	// OverallTimeout bounds the whole aggregation for a single query.
	OverallTimeout time.Duration
	// Coalesce shares one in-flight aggregation among concurrent callers of
	// the same key. It reduces duplicate source traffic only; results are
	// identical either way.
	Coalesce bool
}

// Result is the unified verdict for one query plus its provenance.
type Result struct {
	Malicious      bool
	Level          source.Level
	ThreatType     string
	Confidence     float64
	SourcesQueried []string
	Cached         bool
	Elapsed        time.Duration
}

// Checker owns the sources, the result cache, and per-source readiness.
type Checker struct {
	sources []source.Source
	states  *readiness
	cache   *cache.Cache[Result]
	metrics *metrics.Collector
	logger  *slog.Logger
	cfg     Config
	flight  singleflight.Group
}

// New wires a checker over the given sources. Source names must be unique;
// provenance and per-source health become ambiguous otherwise. Pass nil for
// logger to disable logging.
func New(sources []source.Source, resultCache *cache.Cache[Result], collector *metrics.Collector, logger *slog.Logger, cfg Config) (*Checker, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 5 * time.Second
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = 10 * time.Second
	}
	names := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate source name %q", s.Name())
		}
		seen[s.Name()] = struct{}{}
		names = append(names, s.Name())
	}
	return &Checker{
		sources: sources,
		states:  newReadiness(names),
		cache:   resultCache,
		metrics: collector,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// Initialize brings up every source. A source that fails with a
// configuration error is marked failed and skipped; the others continue.
func (c *Checker) Initialize(ctx context.Context) {
	for _, s := range c.sources {
		if err := s.Initialize(ctx); err != nil {
			c.states.transition(s.Name(), StateFailed)
			c.logger.Error("source failed to initialize", "source", s.Name(), "error", err)
			continue
		}
		c.states.transition(s.Name(), StateReady)
		c.logger.Info("source ready", "source", s.Name())
	}
}

// Shutdown stops every ready source. Shutdown errors are logged and
// swallowed.
func (c *Checker) Shutdown(ctx context.Context) {
	for _, s := range c.sources {
		if c.states.state(s.Name()) != StateReady {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			c.logger.Warn("source shutdown failed", "source", s.Name(), "error", err)
		}
		c.states.transition(s.Name(), StateStopped)
	}
}

// Ready reports whether at least one source can serve lookups.
func (c *Checker) Ready() bool {
	return c.states.status().Ready
}

// Status returns per-source readiness for the health endpoint.
func (c *Checker) Status() Status {
	return c.states.status()
}

// CacheLen returns the live result cache entry count.
func (c *Checker) CacheLen() int {
	return c.cache.Len()
}

// ClearCache empties the result cache.
func (c *Checker) ClearCache() {
	c.cache.Clear()
}

// CheckURL determines whether the URL identified by (hostname, port, path)
// is known-malicious. It returns ErrTimeout only when ctx (or the configured
// overall deadline) expires before the merge completes.
func (c *Checker) CheckURL(ctx context.Context, hostname string, port int, path string) (Result, error) {
	start := time.Now()
	key := cacheKey(hostname, port, path)

	if r, ok := c.cache.Get(key); ok {
		c.metrics.IncCacheHit()
		r.Cached = true
		r.SourcesQueried = nil
		r.Elapsed = time.Since(start)
		return r, nil
	}
	c.metrics.IncCacheMiss()

	if !c.cfg.Coalesce {
		actx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
		defer cancel()
		r, err := c.aggregate(actx, key, hostname, port, path, start)
		if err != nil {
			c.metrics.IncCheckTimeout()
			return Result{}, err
		}
		return r, nil
	}

	// The shared flight is detached from any single caller's cancellation so
	// one disconnecting client cannot fail the other waiters; the configured
	// overall deadline still bounds it.
	ch := c.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OverallTimeout)
		defer cancel()
		return c.aggregate(fctx, key, hostname, port, path, time.Now())
	})
	select {
	case <-ctx.Done():
		c.metrics.IncCheckTimeout()
		return Result{}, ErrTimeout
	case res := <-ch:
		if res.Err != nil {
			c.metrics.IncCheckTimeout()
			return Result{}, res.Err
		}
		r := res.Val.(Result)
		r.Elapsed = time.Since(start)
		return r, nil
	}
}

func (c *Checker) aggregate(ctx context.Context, key, hostname string, port int, path string, start time.Time) (Result, error) {
	ready := c.readySources()
	if len(ready) == 0 {
		// Absence of operational sources degrades confidence; it is not an
		// error the caller should see. Not cached, so a source coming ready
		// is visible on the next query.
		return Result{
			Level:          source.LevelSafe,
			SourcesQueried: []string{},
			Elapsed:        time.Since(start),
		}, nil
	}

	type outcome struct {
		idx     int
		verdict source.Verdict
	}
	results := make(chan outcome, len(ready))
	for i, s := range ready {
		c.metrics.IncLookup(s.Name())
		go func(i int, s source.Source) {
			results <- outcome{idx: i, verdict: c.lookupOne(ctx, s, hostname, port, path)}
		}(i, s)
	}

	// Collected in registration order so the merge tie-break is stable no
	// matter which source answers first.
	verdicts := make([]source.Verdict, len(ready))
	for n := 0; n < len(ready); n++ {
		select {
		case <-ctx.Done():
			return Result{}, ErrTimeout
		case o := <-results:
			verdicts[o.idx] = o.verdict
		}
	}

	names := make([]string, len(ready))
	for i, s := range ready {
		names[i] = s.Name()
		if reason, failed := verdicts[i].Metadata["error"]; failed {
			c.metrics.IncLookupError(s.Name())
			c.logger.Debug("source lookup degraded", "source", s.Name(), "reason", reason)
		}
	}

	m := merge(verdicts)
	result := Result{
		Malicious:      m.Malicious,
		Level:          m.Level,
		ThreatType:     m.ThreatType,
		Confidence:     m.Confidence,
		SourcesQueried: names,
		Elapsed:        time.Since(start),
	}
	c.cache.Set(key, result)
	return result, nil
}

// lookupOne queries a single source under its own timeout. A source that
// ignores its context is abandoned, not awaited: the goroutine completes
// into a buffered channel and the slot reports a timeout verdict.
func (c *Checker) lookupOne(ctx context.Context, s source.Source, hostname string, port int, path string) source.Verdict {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SourceTimeout)
	defer cancel()

	done := make(chan source.Verdict, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("source lookup panicked", "source", s.Name(), "panic", r)
				done <- source.Unavailable(s.Name(), "lookup panicked")
			}
		}()
		done <- s.Lookup(sctx, hostname, port, path)
	}()

	select {
	case v := <-done:
		return v
	case <-sctx.Done():
		return source.Unavailable(s.Name(), "timeout")
	}
}

// readySources returns the sources that can serve this query, in
// registration order. Readiness is checked at call time, not at startup.
func (c *Checker) readySources() []source.Source {
	ready := make([]source.Source, 0, len(c.sources))
	for _, s := range c.sources {
		if c.states.state(s.Name()) == StateReady && s.Ready() {
			ready = append(ready, s)
		}
	}
	return ready
}

// cacheKey is the canonical lookup key: pure and deterministic so equivalent
// queries hit the same entry.
func cacheKey(hostname string, port int, path string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s:%d%s", host, port, path)
}
