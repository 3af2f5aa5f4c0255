package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/registry"
	"github.com/roach88/pvm/internal/schema"
	"github.com/roach88/pvm/internal/trace"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the pvm CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pvm",
		Short: "PVM - provenance versioning model",
		Long:  "Maps system-level audit traces into a typed provenance graph.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewTypesCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// configureLogging installs the default logger. Verbose forces debug.
func configureLogging(w io.Writer, level slog.Level, verbose bool) {
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadRegistry pins the schema's declarations, if schemaPath is set, and
// then registers the trace format's types. A format type that contradicts
// a pinned declaration fails init. The returned registry is frozen.
func loadRegistry(formatName, schemaPath string) (mapping.Format, *registry.Registry, error) {
	format, err := trace.Lookup(formatName)
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New()
	if schemaPath != "" {
		decls, err := schema.Load(schemaPath)
		if err != nil {
			return nil, nil, err
		}
		if err := decls.Register(reg); err != nil {
			return nil, nil, fmt.Errorf("schema %s: %w", schemaPath, err)
		}
		slog.Debug("schema loaded",
			"path", schemaPath,
			"concrete", len(decls.Concrete),
			"context", len(decls.Context))
	}
	if err := format.Init(reg); err != nil {
		return nil, nil, fmt.Errorf("init %s: %w", format.Name(), err)
	}
	reg.Freeze()
	return format, reg, nil
}
