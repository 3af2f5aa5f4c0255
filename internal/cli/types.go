package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/pvm/internal/config"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/trace"
)

// TypesOptions holds flags for the types command.
type TypesOptions struct {
	*RootOptions
	TraceFormat string
	Schema      string
}

// TypesResult is the output of the types command.
type TypesResult struct {
	Format   string            `json:"format"`
	Concrete []ir.ConcreteType `json:"concrete"`
	Context  []ir.ContextType  `json:"context"`
}

// NewTypesCommand creates the types command.
func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TypesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the types a trace format registers",
		Long: `List the concrete and context types registered by a trace format,
plus any declared in a CUE schema. Required properties are marked with *.

Example:
  pvm types --trace-format cadets
  pvm types --schema ./types.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypes(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.TraceFormat, "trace-format", "t", config.Default().Format,
		fmt.Sprintf("trace format %v", trace.Names()))
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE file or directory of extra type declarations")

	return cmd
}

func runTypes(cmd *cobra.Command, opts *TypesOptions) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	format, reg, err := loadRegistry(opts.TraceFormat, opts.Schema)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load types", err)
	}
	result := TypesResult{
		Format:   format.Name(),
		Concrete: reg.ConcreteTypes(),
		Context:  reg.ContextTypes(),
	}
	return formatter.Success(result, func(w io.Writer) { writeTypesText(w, result) })
}

func writeTypesText(w io.Writer, r TypesResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "type\tcategory\tprops")
	for _, ct := range r.Concrete {
		props := make([]string, 0, len(ct.Props))
		for _, name := range ir.SortedKeys(ct.Props) {
			if ct.Props[name] {
				name += "*"
			}
			props = append(props, name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ct.Name, ct.Category, strings.Join(props, " "))
	}
	tw.Flush()

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "context\tkeys")
	for _, ct := range r.Context {
		fmt.Fprintf(tw, "%s\t%s\n", ct.Name, strings.Join(ct.Keys, " "))
	}
	tw.Flush()
}
