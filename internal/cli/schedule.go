package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/fathomline/regatta/internal/adapters/export"
	"github.com/fathomline/regatta/internal/adapters/store"
	"github.com/fathomline/regatta/internal/config"
	"github.com/fathomline/regatta/pkg/logger"
	"github.com/fathomline/regatta/pkg/metrics"
)

const processedSuffix = ".done"

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	InputDir string
	Spec     string
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run batches on a cron schedule",
		Long: `Run the resolution pipeline on a cron schedule.

On each tick the input directory is scanned for *.jsonl batches. Each
batch is resolved in file-name order, renamed with a .done suffix, and
the CSV snapshots are refreshed. Between runs the process serves
Prometheus metrics on the configured address.

Example:
  regatta schedule --input-dir ./inbox
  regatta schedule --input-dir ./inbox --cron "*/15 * * * *"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.InputDir, "input-dir", "", "directory scanned for JSONL batches (required)")
	cmd.Flags().StringVar(&opts.Spec, "cron", "", "cron expression (defaults to the configured one)")
	_ = cmd.MarkFlagRequired("input-dir")

	return cmd
}

func runSchedule(cmd *cobra.Command, opts *ScheduleOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, opts.RootOptions)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	spec := opts.Spec
	if spec == "" {
		spec = cfg.CronSpec
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	log := logger.Get().Named("schedule")

	srv := metricsServer(cfg.MetricsAddr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server failed", logger.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := drainInbox(ctx, cfg, st, opts.InputDir, log); err != nil {
			log.Error(ctx, "scheduled run failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	log.Info(ctx, "scheduler started",
		logger.String("cron", spec),
		logger.String("input_dir", opts.InputDir),
		logger.String("metrics_addr", cfg.MetricsAddr))
	fmt.Fprintf(cmd.OutOrStdout(), "scheduler running (%s), metrics on %s\n", spec, cfg.MetricsAddr)

	<-ctx.Done()
	log.Info(ctx, "scheduler stopping")
	return nil
}

// drainInbox resolves every pending batch in the inbox, then refreshes
// the CSV snapshots once if anything was processed.
func drainInbox(ctx context.Context, cfg *config.Config, st *store.Store, dir string, log logger.Logger) error {
	batches, err := pendingBatches(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(batches) == 0 {
		log.Debug(ctx, "inbox empty", logger.String("dir", dir))
		return nil
	}

	pipe := buildPipeline(cfg, st)
	for _, path := range batches {
		records, err := readBatch(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		summary, err := pipe.Run(ctx, records)
		if err != nil {
			return fmt.Errorf("run %s: %w", path, err)
		}
		log.Info(ctx, "batch resolved",
			logger.String("batch", filepath.Base(path)),
			logger.Int("processed", summary.Processed),
			logger.Int("created", summary.Created),
			logger.Int("matched", summary.Matched),
			logger.Int("ambiguous", summary.Ambiguous),
			logger.Int("rejected", summary.Rejected))
		if err := os.Rename(path, path+processedSuffix); err != nil {
			return fmt.Errorf("mark %s processed: %w", path, err)
		}
	}

	ds, err := st.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	if err := export.New(cfg.ExportDir, export.WithLogger(log)).Export(ctx, ds); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// pendingBatches lists unprocessed JSONL files in file-name order so
// reruns over the same inbox stay deterministic.
func pendingBatches(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var batches []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		batches = append(batches, filepath.Join(dir, e.Name()))
	}
	sort.Strings(batches)
	return batches, nil
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
