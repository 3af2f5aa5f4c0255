package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/ir"
)

func procType() ir.ConcreteType {
	return ir.ConcreteType{Name: "PROC", Category: ir.Actor, Props: map[string]bool{"name": false}}
}

func ctxType() ir.ContextType {
	return ir.ContextType{Name: "CTX", Keys: []string{"event_id", "trace_offset"}}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterConcreteType(procType()))
	require.NoError(t, r.RegisterContextType(ctxType()))

	ct, err := r.LookupConcrete("PROC")
	require.NoError(t, err)
	assert.Equal(t, ir.Actor, ct.Category)

	cx, err := r.LookupContext("CTX")
	require.NoError(t, err)
	assert.Equal(t, []string{"event_id", "trace_offset"}, cx.Keys)
}

func TestLookupUnknownType(t *testing.T) {
	r := New()

	_, err := r.LookupConcrete("FILE")
	assert.True(t, ir.IsUnknownType(err))

	_, err = r.LookupContext("CTX")
	assert.True(t, ir.IsUnknownType(err))
}

func TestIdenticalDuplicateIsNoop(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterConcreteType(procType()))
	require.NoError(t, r.RegisterConcreteType(procType()))
	require.NoError(t, r.RegisterContextType(ctxType()))
	require.NoError(t, r.RegisterContextType(ctxType()))

	assert.Len(t, r.ConcreteTypes(), 1)
	assert.Len(t, r.ContextTypes(), 1)
}

func TestConflictingDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterConcreteType(procType()))

	other := procType()
	other.Category = ir.Store
	err := r.RegisterConcreteType(other)
	require.Error(t, err)
	assert.True(t, ir.IsDuplicateType(err))

	require.NoError(t, r.RegisterContextType(ctxType()))
	err = r.RegisterContextType(ir.ContextType{Name: "CTX", Keys: []string{"event_id"}})
	assert.True(t, ir.IsDuplicateType(err))

	ct, err := r.LookupConcrete("PROC")
	require.NoError(t, err)
	assert.Equal(t, ir.Actor, ct.Category, "first declaration wins")
}

func TestEmptyNameRejected(t *testing.T) {
	r := New()
	assert.Error(t, r.RegisterConcreteType(ir.ConcreteType{Category: ir.Actor}))
	assert.Error(t, r.RegisterContextType(ir.ContextType{}))
}

func TestRegistrationCopiesDeclaration(t *testing.T) {
	r := New()
	pt := procType()
	require.NoError(t, r.RegisterConcreteType(pt))
	pt.Props["cwd"] = false

	ct, err := r.LookupConcrete("PROC")
	require.NoError(t, err)
	assert.False(t, ct.Allows("cwd"))
}

func TestFreeze(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterConcreteType(procType()))
	assert.False(t, r.Frozen())

	r.Freeze()
	r.Freeze()
	assert.True(t, r.Frozen())

	err := r.RegisterConcreteType(ir.ConcreteType{Name: "FILE", Category: ir.Store})
	assert.True(t, ir.IsRegistryFrozen(err))
	err = r.RegisterContextType(ctxType())
	assert.True(t, ir.IsRegistryFrozen(err))
}

func TestSortedListing(t *testing.T) {
	r := New()
	for _, name := range []string{"SOCKET", "FILE", "PROC"} {
		require.NoError(t, r.RegisterConcreteType(ir.ConcreteType{Name: name, Category: ir.Store}))
	}
	var names []string
	for _, ct := range r.ConcreteTypes() {
		names = append(names, ct.Name)
	}
	assert.Equal(t, []string{"FILE", "PROC", "SOCKET"}, names)
}

func TestConcurrentLookupAfterFreeze(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterConcreteType(procType()))
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := r.LookupConcrete("PROC")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
