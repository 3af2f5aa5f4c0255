package graph

import (
	"sync"

	"github.com/roach88/pvm/internal/ir"
)

// Resolver maps identity keys to committed node handles.
//
// Only committed identities live here. A transaction stages new identities
// in its own overlay and publishes them on commit, so a rolled-back record
// leaves no trace in the resolver. Once published, an entry never changes.
type Resolver struct {
	mu     sync.Mutex
	byKey  map[ir.IdentityKey]ir.NodeID
	typeOf map[string]string // external id -> concrete type name
}

func newResolver() *Resolver {
	return &Resolver{
		byKey:  make(map[ir.IdentityKey]ir.NodeID),
		typeOf: make(map[string]string),
	}
}

// Lookup returns the committed handle for key.
func (r *Resolver) Lookup(key ir.IdentityKey) (ir.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	return id, ok
}

// TypeOf returns the concrete type an external id is bound to.
func (r *Resolver) TypeOf(externalID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.typeOf[externalID]
	return t, ok
}

// Len returns the number of committed identities.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// resolve returns the committed handle for key, or an IDENTITY_CONFLICT
// error if the external id is bound to another type.
func (r *Resolver) resolve(key ir.IdentityKey) (ir.NodeID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(key)
}

func (r *Resolver) resolveLocked(key ir.IdentityKey) (ir.NodeID, bool, error) {
	if t, ok := r.typeOf[key.ExternalID]; ok && t != key.Type {
		return 0, false, ir.NewIdentityConflictError(key.ExternalID, t, key.Type)
	}
	id, ok := r.byKey[key]
	return id, ok, nil
}

// publishPlan records, for each staged identity, whether it will alias an
// already-committed node or be published as new.
type publishPlan struct {
	alias map[ir.NodeID]ir.NodeID // staged handle -> committed handle
	fresh []stagedIdentity
}

type stagedIdentity struct {
	id  ir.NodeID
	key ir.IdentityKey
}

// plan computes a publish plan for the staged identities.
func (r *Resolver) plan(staged []stagedIdentity) (publishPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := publishPlan{alias: make(map[ir.NodeID]ir.NodeID)}
	for _, s := range staged {
		existing, ok, err := r.resolveLocked(s.key)
		if err != nil {
			return publishPlan{}, err
		}
		if ok {
			p.alias[s.id] = existing
			continue
		}
		p.fresh = append(p.fresh, s)
	}
	return p, nil
}

// stillFreshLocked reports whether every identity the plan would publish is still
// unbound. Committed entries never change, so aliases need no recheck.
// Caller holds r.mu.
func (r *Resolver) stillFreshLocked(p publishPlan) bool {
	for _, s := range p.fresh {
		if _, ok := r.typeOf[s.key.ExternalID]; ok {
			return false
		}
	}
	return true
}

// publishLocked binds the plan's fresh identities. Caller holds r.mu.
func (r *Resolver) publishLocked(p publishPlan) {
	for _, s := range p.fresh {
		r.byKey[s.key] = s.id
		r.typeOf[s.key.ExternalID] = s.key.Type
	}
}
