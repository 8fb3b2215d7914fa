// Package cli wires the command-line surface of the pipeline.
package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomline/regatta/internal/adapters/store"
	"github.com/fathomline/regatta/internal/app"
	"github.com/fathomline/regatta/internal/config"
	"github.com/fathomline/regatta/internal/domain/normalize"
	"github.com/fathomline/regatta/internal/domain/resolve"
	"github.com/fathomline/regatta/internal/domain/scoring"
	"github.com/fathomline/regatta/internal/domain/timeline"
	"github.com/fathomline/regatta/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the regatta CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "regatta",
		Short: "Vessel mention resolution pipeline",
		Long: `Regatta resolves scraped super-yacht and tender mentions into a
deduplicated registry of canonical entities with timelines, and projects
the registry into CSV snapshots.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose {
				logger.SetLevel(slog.LevelDebug)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))

	return cmd
}

// loadConfig layers file and environment configuration over defaults and
// applies the configured log level unless --verbose already raised it.
func loadConfig(ctx context.Context, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !opts.Verbose {
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the registry with the configured coalescing window.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.DBPath, store.WithTimeline(coalescer(cfg)))
}

// buildPipeline assembles the full resolution pipeline from configuration.
func buildPipeline(cfg *config.Config, st *store.Store) *app.Pipeline {
	norm := normalize.New(
		normalize.WithCategories(cfg.Categories),
		normalize.WithBuilderAliases(cfg.BuilderAliases),
	)
	scorer := scoring.New(
		scoring.WithWeights(cfg.NameWeight, cfg.LengthWeight, cfg.YearWeight),
		scoring.WithLengthBands(cfg.LengthTolerancePct, cfg.LengthContradictionPct),
	)
	res := resolve.New(st, scorer,
		resolve.WithThresholds(cfg.MatchThreshold, cfg.AmbiguousThreshold),
		resolve.WithTrust(trustFunc(cfg)),
	)

	return app.New(st, norm, res,
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithApplyTimeout(time.Duration(cfg.ApplyTimeoutMS)*time.Millisecond),
		app.WithTimeline(coalescer(cfg)),
	)
}

func coalescer(cfg *config.Config) *timeline.Builder {
	window := time.Duration(cfg.CoalesceWindowDays) * 24 * time.Hour
	return timeline.New(timeline.WithCoalesceWindow(window))
}

func trustFunc(cfg *config.Config) resolve.TrustFunc {
	return func(host string) float64 {
		if t, ok := cfg.SourceTrust[host]; ok {
			return t
		}
		return cfg.DefaultTrust
	}
}
