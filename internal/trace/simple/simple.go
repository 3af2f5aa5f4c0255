// Package simple is a minimal line-oriented JSON trace format with
// processes and files, used for examples and end-to-end tests.
//
// Each record looks like:
//
//	{"id":"U1","action":"action::read","src":"F1","dst":"P1","proc":"bash","path":"/etc/passwd"}
//
// read is a source edge FILE(src) -> PROC(dst) and write is a sink edge
// PROC(src) -> FILE(dst). fork derives PROC(dst) from PROC(src). exec sets
// the cmdline of PROC(src) to the executed path and adds no edge. A
// record's proc is stored as the process's name property, and its path
// names the file it touches.
package simple

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/registry"
)

// Type and action names.
const (
	TypeProc    = "PROC"
	TypeFile    = "FILE"
	ContextType = "CTX"

	ActionRead  = "action::read"
	ActionWrite = "action::write"
	ActionExec  = "action::exec"
	ActionFork  = "action::fork"
)

// Format implements mapping.Format.
type Format struct{}

// Name implements mapping.Format.
func (Format) Name() string { return "simple" }

// Init implements mapping.Format.
func (Format) Init(reg *registry.Registry) error {
	types := []ir.ConcreteType{
		{Name: TypeProc, Category: ir.Actor, Props: map[string]bool{"name": false, "cmdline": false}},
		{Name: TypeFile, Category: ir.Store, Props: map[string]bool{}},
	}
	for _, ct := range types {
		if err := reg.RegisterConcreteType(ct); err != nil {
			return fmt.Errorf("register %s: %w", ct.Name, err)
		}
	}
	return reg.RegisterContextType(ir.ContextType{
		Name: ContextType,
		Keys: []string{"event_id", "trace_offset"},
	})
}

// Decode implements mapping.Format.
func (Format) Decode(line []byte) (mapping.Mapped, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("decode simple record: %w", err)
	}
	return &r, nil
}

// Record is one simple trace event.
type Record struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Proc   string `json:"proc,omitempty"`
	Path   string `json:"path,omitempty"`

	offset uint64
}

// SetOffset implements mapping.OffsetSetter.
func (r *Record) SetOffset(offset uint64) {
	r.offset = offset
}

// Process implements mapping.Mapped.
func (r *Record) Process(g mapping.Opener) error {
	if r.ID == "" {
		return ir.NewMissingFieldError(r.Action, "id")
	}
	values := map[string]string{
		"event_id":     r.ID,
		"trace_offset": strconv.FormatUint(r.offset, 10),
	}
	return mapping.Apply(g, ContextType, values, func(tx *graph.Txn) error {
		return actions.Dispatch(r.Action, r, tx)
	})
}

var actions = mapping.Table[*Record]{
	ActionRead:  read,
	ActionWrite: write,
	ActionExec:  exec,
	ActionFork:  fork,
}

func (r *Record) need(fields ...string) error {
	for _, f := range fields {
		var v string
		switch f {
		case "src":
			v = r.Src
		case "dst":
			v = r.Dst
		case "proc":
			v = r.Proc
		case "path":
			v = r.Path
		}
		if v == "" {
			return ir.NewMissingFieldError(r.Action, f)
		}
	}
	return nil
}

// process defines PROC(id) and records its name when the record has one.
func (r *Record) process(tx *graph.Txn, id string) (ir.NodeID, error) {
	p, err := tx.Define(TypeProc, id)
	if err != nil {
		return 0, err
	}
	if r.Proc != "" {
		if err := tx.Meta(p, "name", r.Proc); err != nil {
			return 0, err
		}
	}
	return p, nil
}

// file defines FILE(id) and names it after the record's path.
func (r *Record) file(tx *graph.Txn, id string) (ir.NodeID, error) {
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return 0, err
	}
	if r.Path != "" {
		if err := tx.Name(f, r.Path); err != nil {
			return 0, err
		}
	}
	return f, nil
}

func read(r *Record, tx *graph.Txn) error {
	if err := r.need("src", "dst"); err != nil {
		return err
	}
	f, err := r.file(tx, r.Src)
	if err != nil {
		return err
	}
	p, err := r.process(tx, r.Dst)
	if err != nil {
		return err
	}
	return tx.Source(f, p)
}

func write(r *Record, tx *graph.Txn) error {
	if err := r.need("src", "dst"); err != nil {
		return err
	}
	p, err := r.process(tx, r.Src)
	if err != nil {
		return err
	}
	f, err := r.file(tx, r.Dst)
	if err != nil {
		return err
	}
	return tx.Sink(p, f)
}

func exec(r *Record, tx *graph.Txn) error {
	if err := r.need("src", "path"); err != nil {
		return err
	}
	p, err := r.process(tx, r.Src)
	if err != nil {
		return err
	}
	return tx.Meta(p, "cmdline", r.Path)
}

func fork(r *Record, tx *graph.Txn) error {
	if err := r.need("src", "dst"); err != nil {
		return err
	}
	parent, err := tx.Define(TypeProc, r.Src)
	if err != nil {
		return err
	}
	_, err = tx.Derive(parent, r.Dst)
	return err
}
