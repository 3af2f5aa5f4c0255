package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pvm/internal/ir"
)

// VersionResult is the output of the version command.
type VersionResult struct {
	Engine    string `json:"engine"`
	ChangeSet int    `json:"changeset"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the engine version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			v := VersionResult{Engine: ir.EngineVersion, ChangeSet: ir.ChangeSetVersion}
			return formatter.Success(v, func(w io.Writer) {
				fmt.Fprintf(w, "pvm %s (change-set format v%d)\n", v.Engine, v.ChangeSet)
			})
		},
	}
}
