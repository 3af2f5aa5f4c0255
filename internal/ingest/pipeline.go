// Package ingest drives trace streams through a mapping.Format into the
// provenance graph.
//
// A Pipeline reads one stream line by line, frames each line into a JSON
// record, decodes it and runs the record's SetOffset, Update and Process
// hooks in stream order. Decoding is done ahead in batches by a bounded
// worker group; processing is strictly sequential per stream.
//
// The default failure policy is log and continue: a failed record's
// effects are absent (its transaction was rolled back), the failure is
// logged and counted, and the next record is processed.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/mapping"
)

// DefaultBatchSize is the number of lines decoded ahead of processing.
const DefaultBatchSize = 1024

const tracerName = "github.com/roach88/pvm/internal/ingest"

// ErrorHandler observes every failed record.
type ErrorHandler func(err *RecordError)

// RecordError describes a record that failed to decode or map.
type RecordError struct {
	Stream string
	Line   int
	Offset uint64
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s:%d (offset %d): %v", e.Stream, e.Line, e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Result summarizes one ingested stream.
type Result struct {
	Stream    string `json:"stream"`
	Records   int    `json:"records"`
	Committed int    `json:"committed"`
	Failed    int    `json:"failed"`
	Bytes     uint64 `json:"bytes"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFailFast stops a stream at its first failed record.
func WithFailFast(enabled bool) Option {
	return func(p *Pipeline) {
		p.failFast = enabled
	}
}

// WithErrorHandler registers a handler called for every failed record.
func WithErrorHandler(h ErrorHandler) Option {
	return func(p *Pipeline) {
		p.onError = h
	}
}

// WithMetrics records ingestion metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracerProvider sets the provider for stream and record spans.
//
// Default: the global provider (otel.GetTracerProvider).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithBatchSize sets how many lines are decoded ahead of processing.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDecodeWorkers bounds the number of goroutines decoding a batch.
//
// Default: runtime.GOMAXPROCS(0).
func WithDecodeWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// Pipeline ingests streams of one format into a graph.
type Pipeline struct {
	g      mapping.Opener
	format mapping.Format

	failFast  bool
	onError   ErrorHandler
	metrics   *Metrics
	tracer    trace.Tracer
	batchSize int
	workers   int
}

// NewPipeline creates a pipeline. The format's types must already be
// registered in the graph's registry.
func NewPipeline(g mapping.Opener, format mapping.Format, opts ...Option) *Pipeline {
	p := &Pipeline{
		g:         g,
		format:    format,
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		batchSize: DefaultBatchSize,
		workers:   runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// frame reduces a raw line to the JSON record it carries. Blank lines and
// the brackets of a JSON-array dump carry none; array elements after the
// first are prefixed with ", ".
func frame(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, false
	}
	if bytes.Equal(line, []byte("[")) || bytes.Equal(line, []byte("]")) {
		return nil, false
	}
	return bytes.TrimPrefix(line, []byte(", ")), true
}

// pending is a framed line and its decode result.
type pending struct {
	line   int
	offset uint64
	data   []byte
	rec    mapping.Mapped
	err    error
}

// Run ingests r as the named stream until EOF.
//
// It returns an error only when reading fails, ctx is cancelled, or a
// record fails under WithFailFast. Record failures are otherwise reported
// through the logger, the error handler and Result.Failed.
func (p *Pipeline) Run(ctx context.Context, stream string, r io.Reader) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.stream", trace.WithAttributes(
		attribute.String("pvm.stream", stream),
		attribute.String("pvm.format", p.format.Name()),
	))
	defer span.End()

	start := time.Now()
	res := Result{Stream: stream}
	err := p.run(ctx, stream, r, &res)

	span.SetAttributes(
		attribute.Int("pvm.records", res.Records),
		attribute.Int("pvm.failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	slog.Info("stream ingested",
		"stream", stream,
		"format", p.format.Name(),
		"records", res.Records,
		"committed", res.Committed,
		"failed", res.Failed,
		"bytes", res.Bytes,
		"duration", time.Since(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, stream string, r io.Reader, res *Result) error {
	br := bufio.NewReaderSize(r, 64*1024)
	batch := make([]pending, 0, p.batchSize)
	lineNo := 0
	eof := false

	for !eof {
		batch = batch[:0]
		for len(batch) < p.batchSize {
			raw, err := br.ReadBytes('\n')
			if len(raw) > 0 {
				lineNo++
				offset := res.Bytes
				res.Bytes += uint64(len(raw))
				p.metrics.addBytes(stream, len(raw))
				if data, ok := frame(raw); ok {
					batch = append(batch, pending{line: lineNo, offset: offset, data: data})
				}
			}
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", stream, err)
			}
		}

		if err := p.decode(ctx, batch); err != nil {
			return err
		}
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.process(ctx, stream, &batch[i], res); err != nil {
				return err
			}
		}
	}
	return nil
}

// decode parses a batch concurrently. Decode failures are kept on the
// pending entry and reported in stream order by process.
func (p *Pipeline) decode(ctx context.Context, batch []pending) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range batch {
		pd := &batch[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pd.rec, pd.err = p.format.Decode(pd.data)
			return nil
		})
	}
	return g.Wait()
}

// process runs one decoded record through its hooks. It returns an error
// only when the stream must stop.
func (p *Pipeline) process(ctx context.Context, stream string, pd *pending, res *Result) error {
	_, span := p.tracer.Start(ctx, "ingest.record", trace.WithAttributes(
		attribute.Int("pvm.line", pd.line),
		attribute.Int64("pvm.offset", int64(pd.offset)),
	))
	defer span.End()

	res.Records++
	start := time.Now()
	err := p.apply(pd)
	p.metrics.observe(stream, err, time.Since(start))

	if err == nil {
		res.Committed++
		return nil
	}

	res.Failed++
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := ir.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("pvm.error_code", string(code)))
	}

	rerr := &RecordError{Stream: stream, Line: pd.line, Offset: pd.offset, Err: err}
	slog.Warn("record failed",
		"stream", stream,
		"line", pd.line,
		"offset", pd.offset,
		"code", ir.CodeOf(err),
		"error", err)
	if p.onError != nil {
		p.onError(rerr)
	}
	if p.failFast {
		return rerr
	}
	return nil
}

func (p *Pipeline) apply(pd *pending) error {
	if pd.err != nil {
		return pd.err
	}
	if s, ok := pd.rec.(mapping.OffsetSetter); ok {
		s.SetOffset(pd.offset)
	}
	if u, ok := pd.rec.(mapping.Updater); ok {
		if err := u.Update(); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}
	return pd.rec.Process(p.g)
}
