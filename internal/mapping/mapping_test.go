package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/registry"
)

type event struct {
	ID     string
	Action string
	Proc   string
	File   string
}

var eventTable = Table[event]{
	"open": func(e event, tx *graph.Txn) error {
		p, err := tx.Define("PROC", e.Proc)
		if err != nil {
			return err
		}
		f, err := tx.Define("FILE", e.File)
		if err != nil {
			return err
		}
		return tx.Source(f, p)
	},
	"touch": func(e event, tx *graph.Txn) error {
		p, err := tx.Define("PROC", e.Proc)
		if err != nil {
			return err
		}
		return tx.Meta(p, "undeclared", "x")
	},
	"noop": Ignore[event],
}

func (e event) Process(g Opener) error {
	return Apply(g, "CTX", map[string]string{"event_id": e.ID}, func(tx *graph.Txn) error {
		return eventTable.Dispatch(e.Action, e, tx)
	})
}

func newTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterConcreteType(ir.ConcreteType{Name: "PROC", Category: ir.Actor}))
	require.NoError(t, reg.RegisterConcreteType(ir.ConcreteType{Name: "FILE", Category: ir.Store}))
	require.NoError(t, reg.RegisterContextType(ir.ContextType{Name: "CTX", Keys: []string{"event_id"}}))
	reg.Freeze()
	return graph.New(reg)
}

func TestProcessCommits(t *testing.T) {
	g := newTestGraph(t)
	var m Mapped = event{ID: "1", Action: "open", Proc: "P1", File: "F1"}
	require.NoError(t, m.Process(g))

	st := g.Stats()
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, 1, st.Edges)
}

func TestUnknownActionLeavesGraphUnchanged(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, event{ID: "1", Action: "open", Proc: "P1", File: "F1"}.Process(g))
	before := g.Snapshot()

	err := event{ID: "2", Action: "chmod", Proc: "P2", File: "F2"}.Process(g)
	require.Error(t, err)
	assert.True(t, ir.IsUnknownAction(err))

	var me *ir.MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "chmod", me.Action)
	assert.Equal(t, before, g.Snapshot())
}

func TestSubMappingErrorRollsBack(t *testing.T) {
	g := newTestGraph(t)
	err := event{ID: "1", Action: "touch", Proc: "P1"}.Process(g)
	assert.True(t, ir.IsPropViolation(err))
	assert.Empty(t, g.Nodes(), "the staged PROC node is discarded")
}

func TestIgnoreCommitsNothing(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, event{ID: "1", Action: "noop"}.Process(g))
	assert.Equal(t, 0, g.Stats().Contexts)
}

func TestApplyBeginError(t *testing.T) {
	g := newTestGraph(t)
	called := false
	err := Apply(g, "CTX", map[string]string{"host": "h"}, func(*graph.Txn) error {
		called = true
		return nil
	})
	assert.True(t, ir.IsContextKeyMismatch(err))
	assert.False(t, called)
}

func TestTableActionsSorted(t *testing.T) {
	assert.Equal(t, []string{"noop", "open", "touch"}, eventTable.Actions())
}
