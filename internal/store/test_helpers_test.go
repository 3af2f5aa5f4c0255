package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/pvm/internal/ir"
)

// createTestStore opens a store in a temporary directory with the test
// types registered.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.WriteTypes(context.Background(), testTypes); err != nil {
		t.Fatalf("WriteTypes() failed: %v", err)
	}
	return s
}

var testTypes = []ir.ConcreteType{
	{Name: "PROC", Category: ir.Actor, Props: map[string]bool{"name": false, "uid": true}},
	{Name: "FILE", Category: ir.Store, Props: map[string]bool{}},
}

// createTestChangeSet builds a change-set that creates a process and a
// file and a read edge between them.
func createTestChangeSet(seq int64, proc, file ir.NodeID) ir.ChangeSet {
	return ir.ChangeSet{
		Seq:     seq,
		Context: ir.Context{Seq: seq, Type: "CTX", Values: map[string]string{"event_id": "e1"}},
		Ops: []ir.Mutation{
			{Op: ir.OpCreateNode, Node: proc, Type: "PROC", ExternalID: "P1"},
			{Op: ir.OpSetMeta, Node: proc, Key: "uid", Value: "0"},
			{Op: ir.OpCreateNode, Node: file, Type: "FILE", ExternalID: "F1"},
			{Op: ir.OpSetName, Node: file, Value: "/etc/passwd"},
			{Op: ir.OpAddEdge, Kind: ir.EdgeSource, Src: file, Dst: proc, Bytes: 10},
		},
	}
}
