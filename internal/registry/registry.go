// Package registry holds the concrete and context type declarations that
// every trace format registers at startup.
//
// A Registry is an explicit value passed to every component that performs
// lookups. Registration happens before ingestion; Freeze then makes the
// registry immutable, after which lookups take no lock.
package registry

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/pvm/internal/ir"
)

// Registry stores ConcreteType and ContextType declarations by name.
type Registry struct {
	mu       sync.Mutex
	frozen   atomic.Bool
	concrete map[string]ir.ConcreteType
	context  map[string]ir.ContextType
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{
		concrete: make(map[string]ir.ConcreteType),
		context:  make(map[string]ir.ContextType),
	}
}

// RegisterConcreteType declares a node schema.
//
// Registering an identical declaration twice is a no-op. Registering a
// different declaration under an existing name returns DUPLICATE_TYPE.
func (r *Registry) RegisterConcreteType(ct ir.ConcreteType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ir.NewRegistryFrozenError(ct.Name)
	}
	if ct.Name == "" {
		return errors.New("concrete type name is empty")
	}
	if existing, ok := r.concrete[ct.Name]; ok {
		if existing.Equal(ct) {
			slog.Debug("identical concrete type re-registered", "type", ct.Name)
			return nil
		}
		return ir.NewDuplicateTypeError(ct.Name)
	}

	stored := ct
	stored.Props = maps.Clone(ct.Props)
	if stored.Props == nil {
		stored.Props = map[string]bool{}
	}
	r.concrete[ct.Name] = stored
	slog.Debug("registered concrete type", "type", ct.Name, "category", ct.Category.String())
	return nil
}

// RegisterContextType declares a context schema.
// Duplicate handling follows RegisterConcreteType.
func (r *Registry) RegisterContextType(ct ir.ContextType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ir.NewRegistryFrozenError(ct.Name)
	}
	if ct.Name == "" {
		return errors.New("context type name is empty")
	}
	if existing, ok := r.context[ct.Name]; ok {
		if existing.Equal(ct) {
			slog.Debug("identical context type re-registered", "type", ct.Name)
			return nil
		}
		return ir.NewDuplicateTypeError(ct.Name)
	}

	stored := ct
	stored.Keys = slices.Clone(ct.Keys)
	r.context[ct.Name] = stored
	slog.Debug("registered context type", "type", ct.Name, "keys", len(ct.Keys))
	return nil
}

// LookupConcrete returns the concrete type registered under name.
// The returned Props map is shared and must not be modified.
func (r *Registry) LookupConcrete(name string) (ir.ConcreteType, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	ct, ok := r.concrete[name]
	if !ok {
		return ir.ConcreteType{}, ir.NewUnknownTypeError(name)
	}
	return ct, nil
}

// LookupContext returns the context type registered under name.
func (r *Registry) LookupContext(name string) (ir.ContextType, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	ct, ok := r.context[name]
	if !ok {
		return ir.ContextType{}, ir.NewUnknownTypeError(name)
	}
	return ct, nil
}

// Freeze ends the registration phase. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.frozen.Swap(true) {
		slog.Info("type registry frozen",
			"concrete_types", len(r.concrete),
			"context_types", len(r.context))
	}
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// ConcreteTypes returns all concrete types sorted by name.
func (r *Registry) ConcreteTypes() []ir.ConcreteType {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]ir.ConcreteType, 0, len(r.concrete))
	for _, name := range slices.Sorted(maps.Keys(r.concrete)) {
		out = append(out, r.concrete[name])
	}
	return out
}

// ContextTypes returns all context types sorted by name.
func (r *Registry) ContextTypes() []ir.ContextType {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]ir.ContextType, 0, len(r.context))
	for _, name := range slices.Sorted(maps.Keys(r.context)) {
		out = append(out, r.context[name])
	}
	return out
}
