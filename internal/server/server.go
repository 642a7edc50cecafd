// Package server assembles the configured sources, checker, and HTTP API
// into a runnable service.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/urlsentry/urlsentry/internal/api"
	"github.com/urlsentry/urlsentry/internal/cache"
	"github.com/urlsentry/urlsentry/internal/checker"
	"github.com/urlsentry/urlsentry/internal/config"
	"github.com/urlsentry/urlsentry/internal/metrics"
	"github.com/urlsentry/urlsentry/internal/source"
	"github.com/urlsentry/urlsentry/internal/source/filelist"
	"github.com/urlsentry/urlsentry/internal/source/remote"
)

// Server is the assembled URL reputation service.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	checker *checker.Checker

	httpServer *http.Server
	listener   net.Listener

	errCh chan error
}

// New builds the service from configuration. Pass nil for logger to disable
// logging.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sources, err := BuildSources(cfg.Sources, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	resultCache := cache.New[checker.Result](
		cfg.Cache.IsEnabled(), cfg.Cache.MaxEntries, cfg.Cache.TTLDuration())

	chk, err := checker.New(sources, resultCache, collector, logger, checker.Config{
		SourceTimeout:  cfg.Aggregator.SourceTimeoutDuration(),
		OverallTimeout: cfg.Aggregator.OverallTimeoutDuration(),
		Coalesce:       cfg.Aggregator.ShouldCoalesce(),
	})
	if err != nil {
		return nil, fmt.Errorf("build checker: %w", err)
	}

	var limiter *api.RateLimiter
	if cfg.Limits.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.Limits.RateLimit.RPS, cfg.Limits.RateLimit.Burst)
	}

	app := api.New(api.Options{
		Checker:        chk,
		Metrics:        collector,
		Logger:         logger,
		MaxURLLength:   cfg.Server.MaxURLLength,
		OverallTimeout: cfg.Aggregator.OverallTimeoutDuration(),
		RateLimit:      limiter,
	})

	return &Server{
		cfg:     cfg,
		logger:  logger,
		checker: chk,
		httpServer: &http.Server{
			Handler:      app.Router(),
			ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
			WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		},
		errCh: make(chan error, 1),
	}, nil
}

// BuildSources constructs the configured threat sources in declaration
// order. Declaration order is load-bearing: it decides merge tie-breaks and
// provenance ordering.
func BuildSources(configs []config.SourceConfig, logger *slog.Logger) ([]source.Source, error) {
	sources := make([]source.Source, 0, len(configs))
	for _, sc := range configs {
		var (
			s   source.Source
			err error
		)
		switch sc.Type {
		case "file":
			s, err = filelist.New(filelist.Options{
				Name:   sc.Name,
				Path:   sc.Path,
				Format: sc.Format,
				Watch:  sc.Watch,
				Logger: logger,
			})
		case "http":
			s, err = remote.New(remote.Options{
				Name:     sc.Name,
				Endpoint: sc.URL,
				Method:   sc.Method,
				Headers:  sc.Headers,
				Logger:   logger,
			})
		default:
			err = fmt.Errorf("unknown source type %q", sc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", sc.Name, err)
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// Start initializes the sources and begins serving HTTP. It returns once
// the listener is bound; serving continues in the background.
func (s *Server) Start(ctx context.Context) error {
	s.checker.Initialize(ctx)
	st := s.checker.Status()
	if !st.Ready && st.TotalCount > 0 {
		s.logger.Warn("no sources ready, serving degraded results",
			"total", st.TotalCount)
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr, err)
	}
	s.listener = ln
	s.logger.Info("server listening", "addr", ln.Addr().String(),
		"sources", st.TotalCount, "ready", st.ReadyCount)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Err reports a fatal serve error, if any. The channel closes when serving
// stops.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Addr returns the bound listen address, usable after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight HTTP requests and stops the sources.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.listener != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.checker.Shutdown(ctx)
	s.logger.Info("server stopped")
	return err
}
