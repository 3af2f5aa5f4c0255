package graph

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"


	"github.com/roach88/pvm/internal/ir"
)

// Status is the lifecycle state of a transaction.
type Status int

const (
	StatusOpen Status = iota
	StatusCommitted
	StatusRolledBack
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// stagedOp is a mutation plus whether it is an initial property. Initial
// properties (DefineWith, Derive) apply only if the node is still new at
// commit; they are dropped when another stream committed the identity first.
type stagedOp struct {
	ir.Mutation
	init bool
}

type stagedNode struct {
	key ir.IdentityKey
	ct  ir.ConcreteType
}

// Txn stages the change-set for one input record.
//
// A Txn is not safe for concurrent use and must not outlive the record it
// was opened for. Handles returned by Define are visible to this Txn
// immediately and to everyone else only after Commit.
type Txn struct {
	g       *Graph
	ctxType ir.ContextType
	values  map[string]string
	status  Status
	seq     int64

	ops      []stagedOp
	nodes    map[ir.NodeID]*stagedNode
	order    []ir.NodeID
	keys     map[ir.IdentityKey]ir.NodeID
	extTypes map[string]string
	known    map[ir.NodeID]string
	meta     map[ir.NodeID]map[string]string
}

func newTxn(g *Graph, ct ir.ContextType, values map[string]string) *Txn {
	if values == nil {
		values = map[string]string{}
	}
	return &Txn{
		g:        g,
		ctxType:  ct,
		values:   values,
		nodes:    make(map[ir.NodeID]*stagedNode),
		keys:     make(map[ir.IdentityKey]ir.NodeID),
		extTypes: make(map[string]string),
		known:    make(map[ir.NodeID]string),
		meta:     make(map[ir.NodeID]map[string]string),
	}
}

// Status returns the transaction's lifecycle state.
func (t *Txn) Status() Status {
	return t.status
}

// Seq returns the commit sequence number, or 0 before a successful commit.
func (t *Txn) Seq() int64 {
	return t.seq
}

// Context returns the transaction's audit context.
func (t *Txn) Context() ir.Context {
	return ir.Context{Seq: t.seq, Type: t.ctxType.Name, Values: maps.Clone(t.values)}
}

// Pending returns the number of staged mutations.
func (t *Txn) Pending() int {
	return len(t.ops)
}

func (t *Txn) checkOpen() error {
	if t.status != StatusOpen {
		return ir.NewTxClosedError(t.status.String())
	}
	return nil
}

// Define resolves (typeName, externalID) to a node handle, staging a new
// node the first time the identity is seen.
func (t *Txn) Define(typeName, externalID string) (ir.NodeID, error) {
	id, _, err := t.define(typeName, externalID)
	return id, err
}

// DefineWith is Define with initial properties that are set only when the
// identity is new.
func (t *Txn) DefineWith(typeName, externalID string, init map[string]string) (ir.NodeID, error) {
	id, created, err := t.define(typeName, externalID)
	if err != nil || !created {
		return id, err
	}
	for _, k := range slices.Sorted(maps.Keys(init)) {
		if err := t.setMeta(id, k, init[k], true); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Derive defines a node of the parent's type whose metadata starts as a
// copy of the parent's current metadata, as seen by this transaction.
// If the identity already exists, its handle is returned unchanged.
func (t *Txn) Derive(parent ir.NodeID, externalID string) (ir.NodeID, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	ct, err := t.typeOf(parent)
	if err != nil {
		return 0, err
	}
	inherited := t.currentMeta(parent)

	id, created, err := t.define(ct.Name, externalID)
	if err != nil || !created {
		return id, err
	}
	for _, k := range slices.Sorted(maps.Keys(inherited)) {
		if err := t.setMeta(id, k, inherited[k], true); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (t *Txn) define(typeName, externalID string) (ir.NodeID, bool, error) {
	if err := t.checkOpen(); err != nil {
		return 0, false, err
	}
	ct, err := t.g.reg.LookupConcrete(typeName)
	if err != nil {
		return 0, false, err
	}
	key := ir.IdentityKey{Type: typeName, ExternalID: externalID}

	if id, ok := t.keys[key]; ok {
		return id, false, nil
	}
	if other, ok := t.extTypes[externalID]; ok && other != typeName {
		return 0, false, ir.NewIdentityConflictError(externalID, other, typeName)
	}

	id, ok, err := t.g.resolver.resolve(key)
	if err != nil {
		return 0, false, err
	}
	if ok {
		t.known[id] = typeName
		return id, false, nil
	}

	id = t.g.nextHandle()
	t.nodes[id] = &stagedNode{key: key, ct: ct}
	t.order = append(t.order, id)
	t.keys[key] = id
	t.extTypes[externalID] = typeName
	t.ops = append(t.ops, stagedOp{Mutation: ir.Mutation{
		Op:         ir.OpCreateNode,
		Node:       id,
		Type:       typeName,
		ExternalID: externalID,
	}})
	return id, true, nil
}

// typeOf returns the concrete type of a handle visible to this transaction.
func (t *Txn) typeOf(id ir.NodeID) (ir.ConcreteType, error) {
	if sn, ok := t.nodes[id]; ok {
		return sn.ct, nil
	}
	name, ok := t.known[id]
	if !ok {
		name, ok = t.g.committedType(id)
		if !ok {
			return ir.ConcreteType{}, ir.NewDanglingHandleError(id)
		}
		t.known[id] = name
	}
	return t.g.reg.LookupConcrete(name)
}

// currentMeta returns committed metadata overlaid with this transaction's
// staged values.
func (t *Txn) currentMeta(id ir.NodeID) map[string]string {
	out := make(map[string]string)
	if _, staged := t.nodes[id]; !staged {
		if n, ok := t.g.committedNode(id); ok {
			for k, v := range n.Meta {
				out[k] = v.Value
			}
		}
	}
	maps.Copy(out, t.meta[id])
	return out
}

// Meta stages a metadata value. The key must be declared by the node's
// concrete type.
func (t *Txn) Meta(id ir.NodeID, key, value string) error {
	return t.setMeta(id, key, value, false)
}

func (t *Txn) setMeta(id ir.NodeID, key, value string, init bool) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	ct, err := t.typeOf(id)
	if err != nil {
		return err
	}
	if !ct.Allows(key) {
		return ir.NewPropViolationError(ct.Name, key, id, "property is not declared")
	}
	if t.meta[id] == nil {
		t.meta[id] = make(map[string]string)
	}
	t.meta[id][key] = value
	t.ops = append(t.ops, stagedOp{
		Mutation: ir.Mutation{Op: ir.OpSetMeta, Node: id, Key: key, Value: value},
		init:     init,
	})
	return nil
}

// Name stages a node name. The name is kept byte for byte as recorded.
func (t *Txn) Name(id ir.NodeID, name string) error {
	return t.stageName(ir.OpSetName, id, name)
}

// Unname stages clearing the node's name if it equals name at commit.
func (t *Txn) Unname(id ir.NodeID, name string) error {
	return t.stageName(ir.OpUnname, id, name)
}

func (t *Txn) stageName(op ir.OpKind, id ir.NodeID, name string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if _, err := t.typeOf(id); err != nil {
		return err
	}
	t.ops = append(t.ops, stagedOp{Mutation: ir.Mutation{
		Op:    op,
		Node:  id,
		Value: name,
	}})
	return nil
}

// Source stages a source edge: data flows from store into actor.
func (t *Txn) Source(store, actor ir.NodeID) error {
	return t.edge(ir.EdgeSource, store, actor, 0)
}

// SourceN is Source with a byte count.
func (t *Txn) SourceN(store, actor ir.NodeID, n int64) error {
	return t.edge(ir.EdgeSource, store, actor, n)
}

// Sink stages a sink edge: data flows from actor into store.
func (t *Txn) Sink(actor, store ir.NodeID) error {
	return t.edge(ir.EdgeSink, actor, store, 0)
}

// SinkN is Sink with a byte count.
func (t *Txn) SinkN(actor, store ir.NodeID, n int64) error {
	return t.edge(ir.EdgeSink, actor, store, n)
}

// Connect stages a generic edge in each direction between a and b.
func (t *Txn) Connect(a, b ir.NodeID) error {
	if err := t.edge(ir.EdgeGeneric, a, b, 0); err != nil {
		return err
	}
	return t.edge(ir.EdgeGeneric, b, a, 0)
}

func (t *Txn) edge(kind ir.EdgeKind, src, dst ir.NodeID, n int64) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%s edge: negative byte count %d", kind, n)
	}
	if _, err := t.typeOf(src); err != nil {
		return err
	}
	if _, err := t.typeOf(dst); err != nil {
		return err
	}
	t.ops = append(t.ops, stagedOp{Mutation: ir.Mutation{
		Op:    ir.OpAddEdge,
		Kind:  kind,
		Src:   src,
		Dst:   dst,
		Bytes: n,
	}})
	return nil
}

// Rollback discards the staged change-set. Handles staged by this
// transaction are retired and never reused.
func (t *Txn) Rollback() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.discard()
	slog.Debug("transaction rolled back", "context", t.ctxType.Name)
	return nil
}

func (t *Txn) discard() {
	t.status = StatusRolledBack
	t.ops = nil
	t.nodes = nil
	t.keys = nil
	t.meta = nil
}

// Commit applies the staged change-set atomically.
//
// If another stream committed one of this transaction's new identities
// first, the staged handle is replaced by the committed one and initial
// properties for it are dropped. A required property missing from a new
// node, or an identity bound to a different type meanwhile, fails the
// commit and rolls the transaction back with nothing applied.
func (t *Txn) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if len(t.ops) == 0 {
		t.status = StatusCommitted
		return nil
	}

	staged := make([]stagedIdentity, 0, len(t.order))
	for _, id := range t.order {
		staged = append(staged, stagedIdentity{id: id, key: t.nodes[id].key})
	}

	for attempt := 1; ; attempt++ {
		plan, err := t.g.resolver.plan(staged)
		if err != nil {
			t.discard()
			return err
		}
		if err := t.checkRequired(plan); err != nil {
			t.discard()
			return err
		}
		ops := t.resolveOps(plan)
		idx := t.g.shardsFor(ops)

		t.g.lockShards(idx)
		t.g.resolver.mu.Lock()
		if !t.g.resolver.stillFreshLocked(plan) {
			t.g.resolver.mu.Unlock()
			t.g.unlockShards(idx)
			slog.Debug("identity published concurrently, replanning commit", "attempt", attempt)
			continue
		}
		if err := t.g.verify(ops); err != nil {
			t.g.resolver.mu.Unlock()
			t.g.unlockShards(idx)
			t.discard()
			return err
		}
		t.g.resolver.publishLocked(plan)
		t.g.resolver.mu.Unlock()

		t.seq = t.g.clock.Next()
		cs := ir.ChangeSet{Seq: t.seq, Context: t.Context(), Ops: ops}
		t.g.apply(cs, t.createdTypes(plan))
		t.g.runHooks(cs)
		t.g.unlockShards(idx)

		t.status = StatusCommitted
		slog.Debug("transaction committed",
			"seq", t.seq,
			"context", t.ctxType.Name,
			"ops", len(ops),
			"new_nodes", len(plan.fresh))
		return nil
	}
}

// checkRequired verifies that every node this commit creates has all of its
// type's required properties.
func (t *Txn) checkRequired(p publishPlan) error {
	for _, s := range p.fresh {
		sn := t.nodes[s.id]
		for _, k := range sn.ct.Required() {
			if _, ok := t.meta[s.id][k]; !ok {
				return ir.NewPropViolationError(sn.ct.Name, k, s.id, "required property is missing")
			}
		}
	}
	return nil
}

// resolveOps rewrites staged handles through the plan's aliases and drops
// creations and initial properties of identities that already exist.
func (t *Txn) resolveOps(p publishPlan) []ir.Mutation {
	alias := func(id ir.NodeID) ir.NodeID {
		if to, ok := p.alias[id]; ok {
			return to
		}
		return id
	}
	out := make([]ir.Mutation, 0, len(t.ops))
	for _, op := range t.ops {
		_, aliased := p.alias[op.Node]
		if aliased && (op.Op == ir.OpCreateNode || op.init) {
			continue
		}
		m := op.Mutation
		if m.Node != 0 {
			m.Node = alias(m.Node)
		}
		if m.Op == ir.OpAddEdge {
			m.Src = alias(m.Src)
			m.Dst = alias(m.Dst)
		}
		out = append(out, m)
	}
	return out
}

func (t *Txn) createdTypes(p publishPlan) map[ir.NodeID]ir.ConcreteType {
	out := make(map[ir.NodeID]ir.ConcreteType, len(p.fresh))
	for _, s := range p.fresh {
		out[s.id] = t.nodes[s.id].ct
	}
	return out
}

// shardsFor returns the sorted, de-duplicated shard indexes ops touch.
func (g *Graph) shardsFor(ops []ir.Mutation) []int {
	seen := make(map[int]struct{})
	for _, m := range ops {
		for _, id := range []ir.NodeID{m.Node, m.Src, m.Dst} {
			if id != 0 {
				seen[g.shardIndex(id)] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// verify checks that every handle ops reference is created by ops or
// already committed. Caller holds the shards ops touch.
func (g *Graph) verify(ops []ir.Mutation) error {
	created := make(map[ir.NodeID]struct{})
	exists := func(id ir.NodeID) bool {
		if _, ok := created[id]; ok {
			return true
		}
		_, ok := g.shardOf(id).nodes[id]
		return ok
	}
	for _, m := range ops {
		switch m.Op {
		case ir.OpCreateNode:
			created[m.Node] = struct{}{}
		case ir.OpAddEdge:
			if !exists(m.Src) {
				return ir.NewDanglingHandleError(m.Src)
			}
			if !exists(m.Dst) {
				return ir.NewDanglingHandleError(m.Dst)
			}
		default:
			if !exists(m.Node) {
				return ir.NewDanglingHandleError(m.Node)
			}
		}
	}
	return nil
}
