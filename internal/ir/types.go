package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Category is the PVM category of a concrete type.
type Category uint8

const (
	// Actor is a subject of activity, e.g. a process.
	Actor Category = iota + 1

	// Store is an object of activity, e.g. a file.
	Store

	// Conduit is a communication channel, e.g. a socket or pipe.
	Conduit
)

// String returns the lower-case category name.
func (c Category) String() string {
	switch c {
	case Actor:
		return "actor"
	case Store:
		return "store"
	case Conduit:
		return "conduit"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(s) {
	case "actor":
		return Actor, nil
	case "store":
		return Store, nil
	case "conduit":
		return Conduit, nil
	default:
		return 0, fmt.Errorf("unknown category %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ConcreteType is the schema for a node: its category and the metadata
// keys it accepts. Props maps each key to whether it is required.
type ConcreteType struct {
	Name     string          `json:"name" yaml:"name"`
	Category Category        `json:"category" yaml:"category"`
	Props    map[string]bool `json:"props" yaml:"props"`
}

// Allows reports whether key is a declared property.
func (t ConcreteType) Allows(key string) bool {
	_, ok := t.Props[key]
	return ok
}

// Required returns the required property names in sorted order.
func (t ConcreteType) Required() []string {
	var out []string
	for k, req := range t.Props {
		if req {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Equal reports whether two declarations are identical.
func (t ConcreteType) Equal(o ConcreteType) bool {
	if t.Name != o.Name || t.Category != o.Category || len(t.Props) != len(o.Props) {
		return false
	}
	for k, v := range t.Props {
		ov, ok := o.Props[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// ContextType is the schema for the audit fields attached to a transaction.
type ContextType struct {
	Name string   `json:"name" yaml:"name"`
	Keys []string `json:"keys" yaml:"keys"`
}

// Has reports whether key is a recognized context field.
func (t ContextType) Has(key string) bool {
	return slices.Contains(t.Keys, key)
}

// Equal reports whether two declarations are identical, including key order.
func (t ContextType) Equal(o ContextType) bool {
	return t.Name == o.Name && slices.Equal(t.Keys, o.Keys)
}

// NodeID is an opaque node handle, stable for the process lifetime.
// Zero is never a valid handle.
type NodeID uint64

// EdgeID identifies a committed edge.
type EdgeID uint64

// EdgeKind is the kind of a directed edge.
type EdgeKind string

const (
	// EdgeSource is data flow from a store into an actor (read-like).
	EdgeSource EdgeKind = "source"

	// EdgeSink is data flow from an actor into a store (write-like).
	EdgeSink EdgeKind = "sink"

	// EdgeGeneric is an undirected-in-meaning flow between conduits.
	EdgeGeneric EdgeKind = "generic"
)

// IdentityKey identifies a node across the run: (concrete type name, external id).
type IdentityKey struct {
	Type       string `json:"type"`
	ExternalID string `json:"external_id"`
}

// String renders the key as "type:external_id".
func (k IdentityKey) String() string {
	return k.Type + ":" + k.ExternalID
}

// MetaValue is a metadata value with the commit that set it.
type MetaValue struct {
	Value string `json:"value"`
	Ctx   int64  `json:"ctx"`
}

// Node is a committed graph node.
type Node struct {
	ID         NodeID               `json:"id"`
	Type       string               `json:"type"`
	Category   Category             `json:"category"`
	ExternalID string               `json:"external_id"`
	Name       string               `json:"name,omitempty"`
	Meta       map[string]MetaValue `json:"meta,omitempty"`
	Ctx        int64                `json:"ctx"`
}

// Key returns the node's identity key.
func (n Node) Key() IdentityKey {
	return IdentityKey{Type: n.Type, ExternalID: n.ExternalID}
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	c := n
	if n.Meta != nil {
		c.Meta = make(map[string]MetaValue, len(n.Meta))
		for k, v := range n.Meta {
			c.Meta[k] = v
		}
	}
	return c
}

// Edge is a committed directed edge. Edges are unique per (kind, src, dst);
// repeated flows accumulate Bytes and keep the context of the first commit.
type Edge struct {
	ID    EdgeID   `json:"id"`
	Kind  EdgeKind `json:"kind"`
	Src   NodeID   `json:"src"`
	Dst   NodeID   `json:"dst"`
	Bytes int64    `json:"bytes,omitempty"`
	Ctx   int64    `json:"ctx"`
}

// Context is the audit context of one committed transaction.
type Context struct {
	Seq    int64             `json:"seq"`
	Type   string            `json:"type"`
	Values map[string]string `json:"values"`
}

// OpKind is the kind of a staged mutation.
type OpKind string

const (
	OpCreateNode OpKind = "create_node"
	OpSetMeta    OpKind = "set_meta"
	OpSetName    OpKind = "set_name"
	OpUnname     OpKind = "unname"
	OpAddEdge    OpKind = "add_edge"
)

// Mutation is one staged change. Fields are used according to Op:
//
//	create_node: Node, Type, ExternalID
//	set_meta:    Node, Key, Value
//	set_name:    Node, Value
//	unname:      Node, Value
//	add_edge:    Kind, Src, Dst, Bytes
type Mutation struct {
	Op         OpKind   `json:"op"`
	Node       NodeID   `json:"node,omitempty"`
	Type       string   `json:"type,omitempty"`
	ExternalID string   `json:"external_id,omitempty"`
	Key        string   `json:"key,omitempty"`
	Value      string   `json:"value,omitempty"`
	Kind       EdgeKind `json:"kind,omitempty"`
	Src        NodeID   `json:"src,omitempty"`
	Dst        NodeID   `json:"dst,omitempty"`
	Bytes      int64    `json:"bytes,omitempty"`
}

// ChangeSet is the ordered list of mutations applied by one commit.
// Handles in Ops are the final, resolved handles.
type ChangeSet struct {
	Seq     int64      `json:"seq"`
	Context Context    `json:"context"`
	Ops     []Mutation `json:"ops"`
}
