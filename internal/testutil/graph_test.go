package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/trace/simple"
)

func TestNewGraph(t *testing.T) {
	g := NewGraph(t, []mapping.Format{simple.Format{}})

	assert.True(t, g.Registry().Frozen())
	_, err := g.Registry().LookupConcrete(simple.TypeProc)
	assert.NoError(t, err)
	assert.Zero(t, g.Stats().Nodes)
}

func TestProcess(t *testing.T) {
	g := NewGraph(t, []mapping.Format{simple.Format{}})

	err := Process(t, simple.Format{}, g, `{"id":"U1","action":"action::read","src":"F1","dst":"P1"}`, 42)
	require.NoError(t, err)

	c, ok := g.Context(1)
	require.True(t, ok)
	assert.Equal(t, "42", c.Values["trace_offset"])

	err = Process(t, simple.Format{}, g, `{"id":"U2","action":"action::nope"}`, 0)
	assert.Error(t, err)
}

func TestCanonical(t *testing.T) {
	g := NewGraph(t, []mapping.Format{simple.Format{}})
	assert.Equal(t, `{"contexts":0,"edges":{},"nodes":{}}`, string(Canonical(t, g)))
}
