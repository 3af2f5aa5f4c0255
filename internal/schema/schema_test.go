package schema

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/registry"
)

func compile(t *testing.T, src string) (*Declarations, error) {
	t.Helper()
	return Compile(cuecontext.New().CompileString(src))
}

func TestCompile(t *testing.T) {
	decls, err := compile(t, `
		concrete: {
			socket: category: "conduit"
			file: {
				category: "store"
				props: {owner_uid: false, mode: true}
			}
		}
		context: ctx: keys: ["event_id", "trace_offset"]
	`)
	require.NoError(t, err)

	require.Len(t, decls.Concrete, 2)
	assert.Equal(t, ir.ConcreteType{
		Name:     "file",
		Category: ir.Store,
		Props:    map[string]bool{"owner_uid": false, "mode": true},
	}, decls.Concrete[0])
	assert.Equal(t, "socket", decls.Concrete[1].Name)
	assert.Equal(t, ir.Conduit, decls.Concrete[1].Category)
	assert.Empty(t, decls.Concrete[1].Props)

	require.Len(t, decls.Context, 1)
	assert.Equal(t, ir.ContextType{Name: "ctx", Keys: []string{"event_id", "trace_offset"}}, decls.Context[0])
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad category", `concrete: x: category: "widget"`},
		{"missing category", `concrete: x: props: {a: true}`},
		{"non-bool prop", `concrete: x: {category: "actor", props: {a: "yes"}}`},
		{"duplicate context key", `context: c: keys: ["a", "a"]`},
		{"empty", `other: 1`},
		{"syntax", `concrete: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src)
			assert.Error(t, err)
		})
	}
}

func TestCompileErrorHasPosition(t *testing.T) {
	_, err := compile(t, `context: c: keys: ["a", "a"]`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "context.c.keys", ce.Field)
}

func TestLoadDirectoryAndFile(t *testing.T) {
	fromDir, err := Load("testdata")
	require.NoError(t, err)
	fromFile, err := Load(filepath.Join("testdata", "types.cue"))
	require.NoError(t, err)
	assert.Equal(t, fromDir, fromFile)

	assert.Len(t, fromDir.Concrete, 2)
	assert.Equal(t, []string{"cmdline"}, fromDir.Concrete[1].Required())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "README"), []byte("x"), 0o644))
	_, err = Load(empty)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	decls, err := Load("testdata")
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, decls.Register(reg))
	// Identical re-registration is accepted.
	require.NoError(t, decls.Register(reg))

	ct, err := reg.LookupConcrete("process")
	require.NoError(t, err)
	assert.Equal(t, ir.Actor, ct.Category)

	conflicting := &Declarations{Concrete: []ir.ConcreteType{{Name: "process", Category: ir.Store}}}
	err = conflicting.Register(reg)
	assert.True(t, ir.IsDuplicateType(err))

	reg.Freeze()
	assert.True(t, ir.IsRegistryFrozen(decls.Register(reg)))
}
