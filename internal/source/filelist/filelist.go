// Package filelist implements a file-backed threat source: a CSV or JSON
// malware-URL list loaded into memory and optionally reloaded when the
// backing file changes.
package filelist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/urlsentry/urlsentry/internal/source"
)

// Options configures a file-backed source.
type Options struct {
	// Name uniquely identifies the source in provenance and health output.
	Name string
	// Path is the list file location. A missing file is not an outage: the
	// source comes up ready with an empty dataset.
	Path string
	// Format is "csv" or "json".
	Format string
	// Watch reloads the list when the backing file changes.
	Watch bool
	// Logger may be nil to disable logging.
	Logger *slog.Logger
}

// Source is a file-backed threat source.
type Source struct {
	name   string
	path   string
	parser parser
	watch  bool
	logger *slog.Logger

	mu        sync.RWMutex
	urls      map[entry]struct{}
	hostPorts map[string]struct{}
	ready     bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped sync.Once
}

// New validates the static configuration and builds the source. It returns
// a *source.ConfigError for an unsupported format.
func New(opts Options) (*Source, error) {
	p, err := parserForFormat(opts.Format)
	if err != nil {
		return nil, source.NewConfigError(opts.Name, "%v", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{
		name:   opts.Name,
		path:   opts.Path,
		parser: p,
		watch:  opts.Watch,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (s *Source) Name() string { return s.name }

// Initialize loads the list into memory. Malformed file content is an
// unrecoverable configuration error; an absent file is not.
func (s *Source) Initialize(ctx context.Context) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.logger.Warn("malware list file not found, starting with empty dataset",
			"source", s.name, "path", s.path)
		s.setData(map[entry]struct{}{})
		s.setReady(true)
		return nil
	}

	urls, err := s.load()
	if err != nil {
		return source.NewConfigError(s.name, "load %s: %v", s.path, err)
	}
	s.setData(urls)
	s.setReady(true)
	s.logger.Info("malware list loaded", "source", s.name, "path", s.path, "entries", len(urls))

	if s.watch {
		if err := s.startWatcher(); err != nil {
			// Reload is an enhancement; the loaded data still serves.
			s.logger.Warn("file watch unavailable", "source", s.name, "error", err)
		}
	}
	return nil
}

// Shutdown stops the file watcher. Idempotent.
func (s *Source) Shutdown(ctx context.Context) error {
	s.stopped.Do(func() {
		close(s.done)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
	s.setReady(false)
	return nil
}

func (s *Source) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Size returns the number of list entries currently in memory.
func (s *Source) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}

// Lookup checks the URL against the in-memory list. A URL matches on the
// exact (hostname, port, path) triple, or leniently on hostname and port
// with any path.
func (s *Source) Lookup(ctx context.Context, hostname string, port int, path string) source.Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return source.Unavailable(s.name, "source not ready")
	}

	host := strings.ToLower(strings.TrimSpace(hostname))
	p := strings.TrimSpace(path)
	if p == "" {
		p = "/"
	}

	_, exact := s.urls[entry{hostname: host, port: port, path: p}]
	_, lenient := s.hostPorts[hostPortKey(host, port)]

	if exact || lenient {
		return source.NewVerdict(source.Verdict{
			Malicious:  true,
			ThreatType: "malware",
			Level:      source.LevelHigh,
			Confidence: 1.0,
			DetectedBy: s.name,
			Metadata:   map[string]any{"database_size": len(s.urls)},
		})
	}
	return source.NewVerdict(source.Verdict{
		DetectedBy: s.name,
		Metadata:   map[string]any{"database_size": len(s.urls)},
	})
}

func (s *Source) load() (map[entry]struct{}, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.parser.parse(f)
}

func (s *Source) setData(urls map[entry]struct{}) {
	hostPorts := make(map[string]struct{}, len(urls))
	for e := range urls {
		hostPorts[hostPortKey(e.hostname, e.port)] = struct{}{}
	}
	s.mu.Lock()
	s.urls = urls
	s.hostPorts = hostPorts
	s.mu.Unlock()
}

func (s *Source) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *Source) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("file watch error", "source", s.name, "error", err)
			}
		}
	}()
	return nil
}

// reload re-parses the backing file. On failure the last-known-good data
// keeps serving.
func (s *Source) reload() {
	urls, err := s.load()
	if err != nil {
		s.logger.Warn("malware list reload failed, keeping previous data",
			"source", s.name, "path", s.path, "error", err)
		return
	}
	s.setData(urls)
	s.logger.Info("malware list reloaded", "source", s.name, "entries", len(urls))
}

func hostPortKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
