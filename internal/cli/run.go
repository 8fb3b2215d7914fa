package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomline/regatta/internal/adapters/export"
	"github.com/fathomline/regatta/internal/app"
	"github.com/fathomline/regatta/internal/domain/model"
)

// maxLineBytes bounds a single JSONL record. Scraped fact maps can get
// large when a page dumps its whole specification table into facts.
const maxLineBytes = 1 << 20

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Input    string
	DoExport bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve a batch of scraped mentions into the registry",
		Long: `Resolve a batch of scraped vessel mentions against the registry.

The input is a JSONL file with one mention per line:

  {"source_url":"https://boatintl.example/sea-breeze","fetched_at":"2024-03-01T09:00:00Z","category":"yacht","raw_name":"Sea Breeze","facts":{"length_m":"45.2"}}

Mentions are normalized concurrently, then resolved and applied in input
order. The run summary is printed when the batch completes.

Example:
  regatta run --input batch.jsonl
  regatta run --input batch.jsonl --export`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "path to a JSONL batch of mentions (required)")
	cmd.Flags().BoolVar(&opts.DoExport, "export", false, "write CSV snapshots after the run")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runBatch(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, opts.RootOptions)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	records, err := readBatch(opts.Input)
	if err != nil {
		return fmt.Errorf("read batch: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	summary, err := buildPipeline(cfg, st).Run(ctx, records)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	printSummary(cmd, summary)

	if opts.DoExport {
		ds, err := st.ReadAll(ctx)
		if err != nil {
			return fmt.Errorf("read registry: %w", err)
		}
		if err := export.New(cfg.ExportDir).Export(ctx, ds); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported snapshots to %s\n", cfg.ExportDir)
	}
	return nil
}

// readBatch parses one mention per line, skipping blank lines.
func readBatch(path string) ([]model.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []model.RawRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec model.RawRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func printSummary(cmd *cobra.Command, s app.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "processed %d mentions in %s\n", s.Processed, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  created %d  matched %d  ambiguous %d  rejected %d\n",
		s.Created, s.Matched, s.Ambiguous, s.Rejected)
	fmt.Fprintf(out, "  events inserted %d  coalesced %d\n", s.EventsInserted, s.EventsCoalesced)
	for _, w := range s.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}
