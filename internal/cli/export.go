package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomline/regatta/internal/adapters/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Dir string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write CSV snapshots of the registry",
		Long: `Project the registry into CSV snapshots.

Writes entities.csv, aliases.csv, events.csv, tenders.csv and sources.csv
to the export directory. Each file is replaced atomically, so a partial
write never clobbers a previous snapshot.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "export directory (defaults to the configured one)")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, opts.RootOptions)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir := opts.Dir
	if dir == "" {
		dir = cfg.ExportDir
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ds, err := st.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	if err := export.New(dir).Export(ctx, ds); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "exported %d entities, %d events, %d sources to %s\n",
		len(ds.Entities), len(ds.Events), len(ds.Sources), dir)
	return nil
}
