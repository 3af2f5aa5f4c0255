// Package graph implements the committed provenance graph, the identity
// resolver and the transactions that stage changes against them.
//
// All mutation goes through a Txn: Begin opens one per input record, the
// mapping logic stages define/meta/name/edge operations, and Commit applies
// the whole change-set atomically. Nothing staged is visible to readers or
// to other transactions before Commit, so Rollback is simply discarding
// the staged set.
//
// Thread-safety model:
//   - Graph: safe for concurrent use by many streams and readers
//   - Txn: owned by one goroutine for its whole life
//   - Commit locks only the shards its nodes and edges live in, in
//     ascending order, so non-overlapping commits run in parallel
package graph

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/registry"
)

// DefaultShards is the default number of lock shards.
const DefaultShards = 64

// CommitHook observes every committed change-set.
//
// Hooks run while the commit still holds its shards, so hooks for commits
// that touch the same nodes run in commit order. A hook must not call back
// into the Graph. A hook error is logged and counted in Stats.HookFailures;
// the commit itself stands.
type CommitHook func(cs ir.ChangeSet) error

// Option configures a Graph.
type Option func(*Graph)

// WithShards sets the number of lock shards.
//
// Default: 64 shards (DefaultShards). WithShards(1) serializes all commits.
func WithShards(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.nshards = n
		}
	}
}

// WithCommitHook registers a hook called for every committed change-set.
func WithCommitHook(h CommitHook) Option {
	return func(g *Graph) {
		g.hooks = append(g.hooks, h)
	}
}

// WithClock sets the commit clock, e.g. to continue a journal's numbering.
func WithClock(c *Clock) Option {
	return func(g *Graph) {
		g.clock = c
	}
}

// Graph is the committed provenance graph.
type Graph struct {
	reg      *registry.Registry
	resolver *Resolver
	clock    *Clock
	hooks    []CommitHook

	nshards int
	shards  []*shard

	handles      atomic.Uint64
	edgeIDs      atomic.Uint64
	hookFailures atomic.Int64

	ctxMu    sync.RWMutex
	contexts map[int64]ir.Context
}

type edgeKey struct {
	kind ir.EdgeKind
	src  ir.NodeID
	dst  ir.NodeID
}

// shard owns the nodes whose handle maps to it and the edges whose source
// node does.
type shard struct {
	mu    sync.RWMutex
	nodes map[ir.NodeID]*ir.Node
	edges map[edgeKey]*ir.Edge
}

// New creates an empty graph validated against reg.
func New(reg *registry.Registry, opts ...Option) *Graph {
	g := &Graph{
		reg:      reg,
		resolver: newResolver(),
		clock:    NewClock(),
		nshards:  DefaultShards,
		contexts: make(map[int64]ir.Context),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.shards = make([]*shard, g.nshards)
	for i := range g.shards {
		g.shards[i] = &shard{
			nodes: make(map[ir.NodeID]*ir.Node),
			edges: make(map[edgeKey]*ir.Edge),
		}
	}
	return g
}

// Registry returns the type registry the graph validates against.
func (g *Graph) Registry() *registry.Registry {
	return g.reg
}

// Resolver returns the identity resolver.
func (g *Graph) Resolver() *Resolver {
	return g.resolver
}

// Reader returns the read-only query interface over committed state.
func (g *Graph) Reader() Reader {
	return g
}

// Begin opens a transaction bound to the named context type.
// Every key in values must be declared by the context type.
func (g *Graph) Begin(ctxType string, values map[string]string) (*Txn, error) {
	ct, err := g.reg.LookupContext(ctxType)
	if err != nil {
		return nil, err
	}
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if !ct.Has(k) {
			return nil, ir.NewContextKeyMismatchError(ct.Name, k)
		}
	}
	return newTxn(g, ct, maps.Clone(values)), nil
}

func (g *Graph) shardIndex(id ir.NodeID) int {
	return int(uint64(id) % uint64(len(g.shards)))
}

func (g *Graph) shardOf(id ir.NodeID) *shard {
	return g.shards[g.shardIndex(id)]
}

func (g *Graph) nextHandle() ir.NodeID {
	return ir.NodeID(g.handles.Add(1))
}

// committedNode returns a copy of a committed node.
func (g *Graph) committedNode(id ir.NodeID) (ir.Node, bool) {
	s := g.shardOf(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return ir.Node{}, false
	}
	return n.Clone(), true
}

// committedType returns the concrete type name of a committed node.
func (g *Graph) committedType(id ir.NodeID) (string, bool) {
	s := g.shardOf(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return "", false
	}
	return n.Type, true
}

// lockShards write-locks the given shard indexes, which must be sorted.
func (g *Graph) lockShards(idx []int) {
	for _, i := range idx {
		g.shards[i].mu.Lock()
	}
}

func (g *Graph) unlockShards(idx []int) {
	for i := len(idx) - 1; i >= 0; i-- {
		g.shards[idx[i]].mu.Unlock()
	}
}

func (g *Graph) rlockAll() {
	for _, s := range g.shards {
		s.mu.RLock()
	}
}

func (g *Graph) runlockAll() {
	for i := len(g.shards) - 1; i >= 0; i-- {
		g.shards[i].mu.RUnlock()
	}
}

// apply writes a verified change-set into the locked shards.
func (g *Graph) apply(cs ir.ChangeSet, types map[ir.NodeID]ir.ConcreteType) {
	g.ctxMu.Lock()
	g.contexts[cs.Seq] = cs.Context
	g.ctxMu.Unlock()

	for _, m := range cs.Ops {
		switch m.Op {
		case ir.OpCreateNode:
			g.shardOf(m.Node).nodes[m.Node] = &ir.Node{
				ID:         m.Node,
				Type:       m.Type,
				Category:   types[m.Node].Category,
				ExternalID: m.ExternalID,
				Meta:       make(map[string]ir.MetaValue),
				Ctx:        cs.Seq,
			}
		case ir.OpSetMeta:
			n := g.shardOf(m.Node).nodes[m.Node]
			n.Meta[m.Key] = ir.MetaValue{Value: m.Value, Ctx: cs.Seq}
		case ir.OpSetName:
			g.shardOf(m.Node).nodes[m.Node].Name = m.Value
		case ir.OpUnname:
			n := g.shardOf(m.Node).nodes[m.Node]
			if n.Name == m.Value {
				n.Name = ""
			}
		case ir.OpAddEdge:
			s := g.shardOf(m.Src)
			k := edgeKey{kind: m.Kind, src: m.Src, dst: m.Dst}
			if e, ok := s.edges[k]; ok {
				e.Bytes += m.Bytes
				continue
			}
			s.edges[k] = &ir.Edge{
				ID:    ir.EdgeID(g.edgeIDs.Add(1)),
				Kind:  m.Kind,
				Src:   m.Src,
				Dst:   m.Dst,
				Bytes: m.Bytes,
				Ctx:   cs.Seq,
			}
		}
	}
}

func (g *Graph) runHooks(cs ir.ChangeSet) {
	for _, h := range g.hooks {
		if err := h(cs); err != nil {
			g.hookFailures.Add(1)
			slog.Error("commit hook failed",
				"seq", cs.Seq,
				"context", cs.Context.Type,
				"error", err)
		}
	}
}
