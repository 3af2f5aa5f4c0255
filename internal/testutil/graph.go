// Package testutil provides fixtures for tests that map records into a
// graph.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/registry"
)

// NewGraph returns an empty graph whose frozen registry holds the types
// of every given format.
func NewGraph(t *testing.T, formats []mapping.Format, opts ...graph.Option) *graph.Graph {
	t.Helper()
	reg := registry.New()
	for _, f := range formats {
		require.NoError(t, f.Init(reg), "init %s", f.Name())
	}
	reg.Freeze()
	return graph.New(reg, opts...)
}

// Process decodes line and runs it through the same hooks the ingestion
// pipeline does: SetOffset, Update, then Process. Decode and Update
// failures fail the test; the Process error is returned.
func Process(t *testing.T, f mapping.Format, g mapping.Opener, line string, offset uint64) error {
	t.Helper()
	m, err := f.Decode([]byte(line))
	require.NoError(t, err, "decode %s", line)
	if s, ok := m.(mapping.OffsetSetter); ok {
		s.SetOffset(offset)
	}
	if u, ok := m.(mapping.Updater); ok {
		require.NoError(t, u.Update())
	}
	return m.Process(g)
}

// Canonical returns the canonical JSON of g's committed state.
func Canonical(t *testing.T, g graph.Reader) []byte {
	t.Helper()
	data, err := ir.MarshalCanonical(g.Snapshot().Canonical())
	require.NoError(t, err)
	return data
}
