package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
}

// StatsResult is the output of the stats command.
type StatsResult struct {
	Journal     string              `json:"journal"`
	Commits     int64               `json:"commits"`
	NodesByType map[string]int      `json:"nodes_by_type"`
	EdgesByKind map[ir.EdgeKind]int `json:"edges_by_kind"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a journaled graph",
		Long: `Summarize the graph recorded in a SQLite journal written by
"pvm ingest --db".

Example:
  pvm stats --db graph.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStats(cmd *cobra.Command, opts *StatsOptions) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	// store.Open would create a missing journal.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := StatsResult{Journal: opts.Database}
	if result.Commits, err = st.LastSeq(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	if result.NodesByType, err = st.CountNodesByType(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	if result.EdgesByKind, err = st.CountEdgesByKind(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "journal: %s\ncommits: %d\n\n", result.Journal, result.Commits)
		writeCounts(w, "type", result.NodesByType)
		fmt.Fprintln(w)
		writeCounts(w, "edge", result.EdgesByKind)
	})
}
