package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ingest"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/registry"
	"github.com/roach88/pvm/internal/schema"
	"github.com/roach88/pvm/internal/store"
	"github.com/roach88/pvm/internal/trace"
)

// Run executes a scenario and returns the result.
//
// Each scenario maps its records into a fresh graph as one stream. Failed
// records are collected, not fatal. Run returns an error only when the
// scenario cannot be set up or its journal cannot be read back.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	format, err := trace.Lookup(scenario.Format)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	if scenario.Schema != "" {
		decls, err := schema.Load(scenario.Schema)
		if err != nil {
			return nil, err
		}
		if err := decls.Register(reg); err != nil {
			return nil, fmt.Errorf("schema %s: %w", scenario.Schema, err)
		}
	}
	if err := format.Init(reg); err != nil {
		return nil, fmt.Errorf("init %s: %w", format.Name(), err)
	}
	reg.Freeze()

	opts := []graph.Option{graph.WithShards(scenario.Shards)}
	var st *store.Store
	if scenario.Journal {
		if st, err = store.Open(":memory:"); err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
		if err := st.WriteTypes(ctx, reg.ConcreteTypes()); err != nil {
			return nil, err
		}
		opts = append(opts, graph.WithCommitHook(st.Hook()))
	}
	g := graph.New(reg, opts...)

	input, err := encodeRecords(scenario.Records)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	p := ingest.NewPipeline(g, format, ingest.WithErrorHandler(func(rerr *ingest.RecordError) {
		result.Failures = append(result.Failures, Failure{
			Line:    rerr.Line,
			Offset:  rerr.Offset,
			Code:    string(ir.CodeOf(rerr.Err)),
			Message: rerr.Err.Error(),
		})
	}))
	if result.Stream, err = p.Run(ctx, scenario.Name, bytes.NewReader(input)); err != nil {
		return nil, err
	}
	result.Snapshot = g.Snapshot()

	if st != nil {
		if err := checkJournal(ctx, st, result); err != nil {
			return nil, err
		}
	}

	for i, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

// encodeRecords renders records as newline-delimited lines.
func encodeRecords(records []any) ([]byte, error) {
	var buf bytes.Buffer
	for i, rec := range records {
		if s, ok := rec.(string); ok {
			buf.WriteString(s)
		} else {
			line, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("records[%d]: %w", i, err)
			}
			buf.Write(line)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// checkJournal reads the journal back and reports a divergence from the
// graph as an assertion failure.
func checkJournal(ctx context.Context, st *store.Store, result *Result) error {
	nodes, err := st.ReadNodes(ctx)
	if err != nil {
		return err
	}
	edges, err := st.ReadEdges(ctx)
	if err != nil {
		return err
	}
	journaled := graph.Snapshot{Nodes: nodes, Edges: edges, Contexts: result.Snapshot.Contexts}

	want, err := ir.MarshalCanonical(result.Snapshot.Canonical())
	if err != nil {
		return err
	}
	got, err := ir.MarshalCanonical(journaled.Canonical())
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		result.AddError((&AssertionError{
			Type:     "journal",
			Expected: string(want),
			Actual:   string(got),
		}).Error())
	}
	return nil
}
