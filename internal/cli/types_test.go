package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/ir"
)

func concreteNames(types []ir.ConcreteType) []string {
	names := make([]string, 0, len(types))
	for _, ct := range types {
		names = append(names, ct.Name)
	}
	return names
}

func contextNames(types []ir.ContextType) []string {
	names := make([]string, 0, len(types))
	for _, ct := range types {
		names = append(names, ct.Name)
	}
	return names
}

func TestTypes_Simple(t *testing.T) {
	out, err := executeCommand(t, nil, "--format", "json", "types", "-t", "simple")
	require.NoError(t, err)

	var res TypesResult
	decodeData(t, out, &res)
	assert.Equal(t, "simple", res.Format)
	assert.Equal(t, []string{"FILE", "PROC"}, concreteNames(res.Concrete))
	assert.Equal(t, []string{"CTX"}, contextNames(res.Context))
	assert.Equal(t, ir.Actor, res.Concrete[1].Category)
}

func TestTypes_CadetsText(t *testing.T) {
	out, err := executeCommand(t, nil, "types")
	require.NoError(t, err)

	assert.Contains(t, out, "process")
	assert.Contains(t, out, "cmdline*")
	assert.Contains(t, out, "cadets_context")
}

func TestTypes_WithSchema(t *testing.T) {
	out, err := executeCommand(t, nil, "--format", "json", "types", "-t", "simple",
		"--schema", "../schema/testdata/types.cue")
	require.NoError(t, err)

	var res TypesResult
	decodeData(t, out, &res)
	assert.Equal(t, []string{"FILE", "PROC", "file", "process"}, concreteNames(res.Concrete))
	assert.Equal(t, []string{"CTX", "audit"}, contextNames(res.Context))
}

func TestTypes_ConflictingSchema(t *testing.T) {
	_, err := executeCommand(t, nil, "types", "--schema", "../schema/testdata/types.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, ir.IsDuplicateType(err), err.Error())
	assert.Contains(t, err.Error(), "init cadets", "schema declarations are pinned before the format registers")
}
