package graph

import (
	"cmp"
	"slices"

	"github.com/roach88/pvm/internal/ir"
)

// Reader is the read-only query interface over committed graph state.
//
// Exporters and views observe the engine only through Reader. Every method
// returns copies; nothing returned aliases graph state. Multi-node reads
// hold every shard for their duration, so they never observe a
// partially-applied commit.
type Reader interface {
	// Node returns a committed node by handle.
	Node(id ir.NodeID) (ir.Node, bool)

	// Nodes returns all committed nodes ordered by handle.
	Nodes() []ir.Node

	// Edges returns all committed edges ordered by edge id.
	Edges() []ir.Edge

	// Lookup returns the committed node for an identity key.
	Lookup(key ir.IdentityKey) (ir.Node, bool)

	// CountByType returns the number of nodes per concrete type.
	CountByType() map[string]int

	// Stats returns aggregate counts.
	Stats() Stats

	// Context returns the audit context of a commit.
	Context(seq int64) (ir.Context, bool)

	// Snapshot returns a consistent copy of nodes, edges and contexts.
	Snapshot() Snapshot
}

// Stats is an aggregate view of the graph.
type Stats struct {
	Nodes        int                 `json:"nodes"`
	Edges        int                 `json:"edges"`
	Contexts     int                 `json:"contexts"`
	Identities   int                 `json:"identities"`
	HookFailures int64               `json:"hook_failures"` // commit hook calls that returned an error
	NodesByType  map[string]int      `json:"nodes_by_type"`
	EdgesByKind  map[ir.EdgeKind]int `json:"edges_by_kind"`
}

// Snapshot is a point-in-time copy of the committed graph.
type Snapshot struct {
	Nodes    []ir.Node    `json:"nodes"`
	Edges    []ir.Edge    `json:"edges"`
	Contexts []ir.Context `json:"contexts"`
}

// Node implements Reader.
func (g *Graph) Node(id ir.NodeID) (ir.Node, bool) {
	return g.committedNode(id)
}

// Lookup implements Reader.
func (g *Graph) Lookup(key ir.IdentityKey) (ir.Node, bool) {
	id, ok := g.resolver.Lookup(key)
	if !ok {
		return ir.Node{}, false
	}
	return g.committedNode(id)
}

// Nodes implements Reader.
func (g *Graph) Nodes() []ir.Node {
	g.rlockAll()
	defer g.runlockAll()
	return g.nodesLocked()
}

// Edges implements Reader.
func (g *Graph) Edges() []ir.Edge {
	g.rlockAll()
	defer g.runlockAll()
	return g.edgesLocked()
}

// CountByType implements Reader.
func (g *Graph) CountByType() map[string]int {
	g.rlockAll()
	defer g.runlockAll()
	out := make(map[string]int)
	for _, s := range g.shards {
		for _, n := range s.nodes {
			out[n.Type]++
		}
	}
	return out
}

// Stats implements Reader.
//
// Every count is taken under all shard locks, so they describe the same
// set of commits.
func (g *Graph) Stats() Stats {
	g.rlockAll()
	defer g.runlockAll()

	st := Stats{
		NodesByType: make(map[string]int),
		EdgesByKind: make(map[ir.EdgeKind]int),
	}
	for _, s := range g.shards {
		for _, n := range s.nodes {
			st.Nodes++
			st.NodesByType[n.Type]++
		}
		for _, e := range s.edges {
			st.Edges++
			st.EdgesByKind[e.Kind]++
		}
	}

	g.ctxMu.RLock()
	st.Contexts = len(g.contexts)
	g.ctxMu.RUnlock()
	st.Identities = g.resolver.Len()
	st.HookFailures = g.hookFailures.Load()
	return st
}

// Context implements Reader.
func (g *Graph) Context(seq int64) (ir.Context, bool) {
	g.ctxMu.RLock()
	defer g.ctxMu.RUnlock()
	c, ok := g.contexts[seq]
	return c, ok
}

// Snapshot implements Reader.
func (g *Graph) Snapshot() Snapshot {
	g.rlockAll()
	defer g.runlockAll()

	snap := Snapshot{Nodes: g.nodesLocked(), Edges: g.edgesLocked()}

	g.ctxMu.RLock()
	for _, c := range g.contexts {
		snap.Contexts = append(snap.Contexts, c)
	}
	g.ctxMu.RUnlock()
	slices.SortFunc(snap.Contexts, func(a, b ir.Context) int { return cmp.Compare(a.Seq, b.Seq) })
	return snap
}

func (g *Graph) nodesLocked() []ir.Node {
	var out []ir.Node
	for _, s := range g.shards {
		for _, n := range s.nodes {
			out = append(out, n.Clone())
		}
	}
	slices.SortFunc(out, func(a, b ir.Node) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (g *Graph) edgesLocked() []ir.Edge {
	var out []ir.Edge
	for _, s := range g.shards {
		for _, e := range s.edges {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b ir.Edge) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Canonical returns the snapshot as a canonical object keyed by identity
// rather than by handle, so two runs that build the same graph produce the
// same object regardless of handle or commit numbering.
//
// Nodes are keyed "type:external_id"; edges are listed as
// "kind type:src -> type:dst" with their byte counts.
func (s Snapshot) Canonical() map[string]any {
	keys := make(map[ir.NodeID]string, len(s.Nodes))
	nodes := make(map[string]any, len(s.Nodes))
	for _, n := range s.Nodes {
		k := n.Key().String()
		keys[n.ID] = k
		meta := make(map[string]any, len(n.Meta))
		for mk, mv := range n.Meta {
			meta[mk] = mv.Value
		}
		nodes[k] = map[string]any{
			"category": n.Category.String(),
			"name":     n.Name,
			"meta":     meta,
		}
	}
	edges := make(map[string]any, len(s.Edges))
	for _, e := range s.Edges {
		edges[string(e.Kind)+" "+keys[e.Src]+" -> "+keys[e.Dst]] = e.Bytes
	}
	return map[string]any{
		"nodes":    nodes,
		"edges":    edges,
		"contexts": int64(len(s.Contexts)),
	}
}
