package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	From   int64
	Into   int64
	Reason string
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge one entity into another",
		Long: `Merge a duplicate entity into its canonical survivor.

The merged entity becomes a tombstone that redirects to the survivor.
Its aliases and timeline move to the survivor, absent attributes are
filled in, and a merge record is appended to the audit trail. Nothing
is ever deleted from the registry.

Example:
  regatta merge --from 42 --into 7 --reason "same hull, charter rename"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "id of the duplicate entity (required)")
	cmd.Flags().Int64Var(&opts.Into, "into", 0, "id of the surviving entity (required)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the two are the same vessel (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("into")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runMerge(cmd *cobra.Command, opts *MergeOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, opts.RootOptions)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.MergeEntities(ctx, opts.From, opts.Into, opts.Reason); err != nil {
		return fmt.Errorf("merge %d into %d: %w", opts.From, opts.Into, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "merged entity %d into %d\n", opts.From, opts.Into)
	return nil
}
