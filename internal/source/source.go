package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source is the contract every threat-intelligence source satisfies,
// regardless of backing mechanism (local file, remote endpoint). The
// aggregator is written solely against this interface.
type Source interface {
	// Name returns the unique identifier for this source. It appears in
	// verdict provenance and per-source health reporting.
	Name() string

	// Initialize performs setup (load a file, probe an endpoint). Remote
	// unreachability is not an error: a transient outage should be retried
	// per-query, not permanently disable the source. Initialize returns a
	// *ConfigError only for unrecoverable static misconfiguration.
	Initialize(ctx context.Context) error

	// Shutdown releases resources. It is idempotent and never fails loudly.
	Shutdown(ctx context.Context) error

	// Lookup checks one URL against the source's data. It always returns a
	// Verdict: operational failures (network errors, malformed upstream
	// payloads, backend error statuses) are absorbed into a non-malicious
	// Verdict with the reason in Metadata["error"].
	Lookup(ctx context.Context, hostname string, port int, path string) Verdict

	// Ready reports whether the source can currently accept queries.
	Ready() bool
}

// Level is an ordered threat severity.
type Level int

const (
	LevelSafe Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "safe"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseLevel maps a severity string to a Level. Unknown strings map to
// LevelSafe; verdict normalization bumps malicious verdicts off safe anyway.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelSafe
	}
}

// Verdict is a single source's malicious/safe determination. Verdicts are
// created fresh per query and never mutated after construction.
type Verdict struct {
	Malicious  bool
	ThreatType string
	Level      Level
	Confidence float64
	DetectedBy string
	Metadata   map[string]any
	Timestamp  time.Time
}

// NewVerdict applies construction invariants: the timestamp defaults to now,
// confidence is clamped to [0, 1], metadata is never nil, and a malicious
// verdict may never report safe severity (it is bumped to medium).
func NewVerdict(v Verdict) Verdict {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}
	if v.Malicious && v.Level == LevelSafe {
		v.Level = LevelMedium
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	} else if v.Confidence > 1 {
		v.Confidence = 1
	}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	return v
}

// Unavailable is the synthetic non-malicious verdict a source reports when
// it cannot produce a real answer (not ready, timed out, upstream failure).
func Unavailable(name, reason string) Verdict {
	return NewVerdict(Verdict{
		DetectedBy: name,
		Metadata:   map[string]any{"error": reason},
	})
}

// ConfigError marks a source's static configuration as invalid (unsupported
// file format, bad HTTP method). It is fatal to that source only.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source %s: %s", e.Source, e.Reason)
}

// NewConfigError builds a ConfigError for the named source.
func NewConfigError(source, format string, args ...any) *ConfigError {
	return &ConfigError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
