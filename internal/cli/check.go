package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/urlsentry/urlsentry/internal/cache"
	"github.com/urlsentry/urlsentry/internal/checker"
	"github.com/urlsentry/urlsentry/internal/metrics"
	"github.com/urlsentry/urlsentry/internal/server"
	"github.com/urlsentry/urlsentry/internal/urlcheck"
)

// checkOutput is the one-shot lookup report printed as JSON.
type checkOutput struct {
	URL             string   `json:"url"`
	IsMalicious     bool     `json:"is_malicious"`
	ThreatLevel     string   `json:"threat_level"`
	ThreatType      string   `json:"threat_type,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	SourcesQueried  []string `json:"sources_queried"`
	ResponseTimeMS  float64  `json:"response_time_ms"`
}

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Check one URL against the configured sources and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			normalized, err := urlcheck.Validate(args[0])
			if err != nil {
				return &ExitError{code: 2, message: err.Error()}
			}
			hostname, port, err := urlcheck.ExtractHostPort(normalized)
			if err != nil {
				return &ExitError{code: 2, message: err.Error()}
			}
			path, err := urlcheck.ExtractPath(normalized)
			if err != nil {
				return &ExitError{code: 2, message: err.Error()}
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Logging)

			sources, err := server.BuildSources(cfg.Sources, logger)
			if err != nil {
				return err
			}
			chk, err := checker.New(sources,
				cache.New[checker.Result](false, 1, time.Minute),
				metrics.New(), logger, checker.Config{
					SourceTimeout:  cfg.Aggregator.SourceTimeoutDuration(),
					OverallTimeout: cfg.Aggregator.OverallTimeoutDuration(),
				})
			if err != nil {
				return err
			}
			chk.Initialize(ctx)
			defer chk.Shutdown(context.Background())

			result, err := chk.CheckURL(ctx, hostname, port, path)
			if err != nil {
				return &ExitError{code: 1, message: err.Error()}
			}

			sourcesQueried := result.SourcesQueried
			if sourcesQueried == nil {
				sourcesQueried = []string{}
			}
			out := checkOutput{
				URL:             normalized,
				IsMalicious:     result.Malicious,
				ThreatLevel:     result.Level.String(),
				ThreatType:      result.ThreatType,
				ConfidenceScore: result.Confidence,
				SourcesQueried:  sourcesQueried,
				ResponseTimeMS:  float64(result.Elapsed.Microseconds()) / 1000.0,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}

			// A malicious verdict is a distinct exit code so scripts can
			// branch on it without parsing JSON.
			if result.Malicious {
				return &ExitError{code: 3}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "",
		"Path to config YAML (default: built-in defaults with no sources)")
	return cmd
}
