package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/pvm/internal/config"
	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ingest"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/store"
)

// stdinStream names the standard input stream argument.
const stdinStream = "-"

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	ConfigPath  string
	TraceFormat string
	Database    string
	Schema      string
	Shards      int
	FailFast    bool
	MetricsAddr string
	Overwrite   bool
	BatchSize   int
	Workers     int
}

// IngestResult is the output of the ingest command.
type IngestResult struct {
	Format  string          `json:"format"`
	Streams []ingest.Result `json:"streams"`
	Stats   graph.Stats     `json:"stats"`
	Digest  string          `json:"digest"`
	Journal string          `json:"journal,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest [trace-file...]",
		Short: "Map trace streams into the provenance graph",
		Long: `Map one or more trace streams into the provenance graph.

Each file is ingested as an independent stream; streams run concurrently
and share one graph. Use "-" to read a stream from standard input. Streams
listed in the config file come before those given as arguments.

Failed records are logged and skipped unless --fail-fast is set. With --db,
every commit is journaled to SQLite.

Example:
  pvm ingest --trace-format cadets audit.json
  pvm ingest --config pvm.yaml --db graph.db --overwrite
  zcat audit.json.gz | pvm ingest -t cadets -`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML run configuration")
	cmd.Flags().StringVarP(&opts.TraceFormat, "trace-format", "t", "", "trace format (default cadets)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE file or directory of extra type declarations")
	cmd.Flags().IntVar(&opts.Shards, "shards", graph.DefaultShards, "number of graph lock shards")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop a stream at its first failed record")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "clear an existing journal before ingesting")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", ingest.DefaultBatchSize, "lines decoded ahead per stream")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "decode workers per stream (0 = GOMAXPROCS)")

	return cmd
}

// resolveConfig loads the config file, if any, and applies explicitly set
// flags over it.
func resolveConfig(cmd *cobra.Command, opts *IngestOptions, args []string) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("trace-format") {
		cfg.Format = opts.TraceFormat
	}
	if flags.Changed("db") {
		cfg.DB = opts.Database
	}
	if flags.Changed("schema") {
		cfg.Schema = opts.Schema
	}
	if flags.Changed("shards") {
		cfg.Shards = opts.Shards
	}
	if flags.Changed("fail-fast") {
		cfg.FailFast = opts.FailFast
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = opts.BatchSize
	}
	if flags.Changed("workers") {
		cfg.DecodeWorkers = opts.Workers
	}
	cfg.Streams = append(cfg.Streams, args...)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if len(cfg.Streams) == 0 {
		return cfg, errors.New("no trace streams given")
	}
	return cfg, nil
}

func runIngest(cmd *cobra.Command, opts *IngestOptions, args []string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := resolveConfig(cmd, opts, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	level, _ := cfg.Level()
	configureLogging(cmd.ErrOrStderr(), level, opts.Verbose)

	format, reg, err := loadRegistry(cfg.Format, cfg.Schema)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load types", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping ingestion", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	graphOpts := []graph.Option{graph.WithShards(cfg.Shards)}
	if cfg.DB != "" {
		st, err := openJournal(ctx, cfg.DB, reg.ConcreteTypes(), opts.Overwrite)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		graphOpts = append(graphOpts, graph.WithCommitHook(st.Hook()))
	}
	g := graph.New(reg, graphOpts...)

	pipelineOpts := []ingest.Option{
		ingest.WithFailFast(cfg.FailFast),
		ingest.WithBatchSize(cfg.BatchSize),
		ingest.WithDecodeWorkers(cfg.DecodeWorkers),
	}
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		metrics, err := ingest.NewMetrics(promReg)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to register metrics", err)
		}
		stop := serveMetrics(cfg.MetricsAddr, promReg)
		defer stop()
		pipelineOpts = append(pipelineOpts, ingest.WithMetrics(metrics))
	}

	streams, closeStreams, err := openStreams(cfg.Streams, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace", err)
	}
	defer closeStreams()

	slog.Info("ingest starting",
		"format", format.Name(),
		"streams", len(streams),
		"shards", cfg.Shards,
		"journal", cfg.DB)

	p := ingest.NewPipeline(g, format, pipelineOpts...)
	results, runErr := p.IngestStreams(ctx, streams)

	digest, err := ir.GraphDigest(g.Snapshot().Canonical())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest graph", err)
	}
	result := IngestResult{
		Format:  format.Name(),
		Streams: results,
		Stats:   g.Stats(),
		Digest:  digest,
		Journal: cfg.DB,
	}
	if err := formatter.Success(result, func(w io.Writer) { writeIngestText(w, result) }); err != nil {
		return err
	}

	return ingestOutcome(runErr, result.Stats)
}

// ingestOutcome maps a finished run to its exit status. A run whose commits
// did not all reach the journal fails even when every stream completed.
func ingestOutcome(runErr error, st graph.Stats) error {
	switch {
	case errors.Is(runErr, context.Canceled):
		return WrapExitError(ExitFailure, "ingestion interrupted", runErr)
	case runErr != nil:
		return WrapExitError(ExitFailure, "ingestion stopped", runErr)
	case st.HookFailures > 0:
		return NewExitError(ExitFailure,
			fmt.Sprintf("journal incomplete: %d commits could not be journaled", st.HookFailures))
	}
	return nil
}

// openJournal opens the journal at path and records the registered types.
// A journal that already holds a graph is refused unless overwrite is set.
func openJournal(ctx context.Context, path string, types []ir.ConcreteType, overwrite bool) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	fail := func(code int, msg string, err error) (*store.Store, error) {
		st.Close()
		return nil, WrapExitError(code, msg, err)
	}

	last, err := st.LastSeq(ctx)
	if err != nil {
		return fail(ExitFailure, "failed to read journal", err)
	}
	if last > 0 {
		if !overwrite {
			return fail(ExitCommandError, "journal not empty",
				fmt.Errorf("%s holds %d commits; use --overwrite to replace them", path, last))
		}
		slog.Info("clearing journal", "path", path, "commits", last)
		if err := st.Reset(ctx); err != nil {
			return fail(ExitFailure, "failed to clear journal", err)
		}
	}
	if err := st.WriteTypes(ctx, types); err != nil {
		return fail(ExitFailure, "failed to journal types", err)
	}
	return st, nil
}

// openStreams opens every trace path. The returned func closes them.
func openStreams(paths []string, stdin io.Reader) ([]ingest.Stream, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	streams := make([]ingest.Stream, 0, len(paths))
	usedStdin := false
	for _, path := range paths {
		if path == stdinStream {
			if usedStdin {
				closeAll()
				return nil, nil, errors.New("standard input given more than once")
			}
			usedStdin = true
			streams = append(streams, ingest.Stream{Name: "stdin", Reader: stdin})
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		streams = append(streams, ingest.Stream{Name: path, Reader: f})
	}
	return streams, closeAll, nil
}

// serveMetrics serves reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
}

func writeIngestText(w io.Writer, r IngestResult) {
	for _, s := range r.Streams {
		fmt.Fprintf(w, "%s: %d records, %d committed, %d failed, %d bytes\n",
			s.Stream, s.Records, s.Committed, s.Failed, s.Bytes)
	}
	fmt.Fprintf(w, "\nnodes=%d edges=%d contexts=%d identities=%d\n",
		r.Stats.Nodes, r.Stats.Edges, r.Stats.Contexts, r.Stats.Identities)
	if len(r.Stats.NodesByType) > 0 {
		fmt.Fprintln(w)
		writeCounts(w, "type", r.Stats.NodesByType)
	}
	if len(r.Stats.EdgesByKind) > 0 {
		fmt.Fprintln(w)
		writeCounts(w, "edge", r.Stats.EdgesByKind)
	}
	fmt.Fprintf(w, "\ndigest: %s\n", r.Digest)
	if r.Journal != "" {
		fmt.Fprintf(w, "journal: %s\n", r.Journal)
	}
	if r.Stats.HookFailures > 0 {
		fmt.Fprintf(w, "journal failures: %d\n", r.Stats.HookFailures)
	}
}
