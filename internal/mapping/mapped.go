// Package mapping defines the contract a trace format implements to feed
// the provenance graph.
//
// A Format registers its schemas once at startup and decodes each input
// line into a Mapped record. The pipeline then calls, per record, the
// optional SetOffset and Update hooks followed by Process. Process opens
// exactly one transaction, dispatches on the record's action tag through a
// Table and commits, or rolls back and returns the error.
package mapping

import (
	"log/slog"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/registry"
)

// Format is one supported trace format.
type Format interface {
	// Name is the format's configuration name, e.g. "cadets".
	Name() string

	// Init registers the format's concrete and context types.
	Init(reg *registry.Registry) error

	// Decode parses one framed record.
	Decode(line []byte) (Mapped, error)
}

// Opener opens transactions against the graph. *graph.Graph implements it.
type Opener interface {
	Begin(ctxType string, values map[string]string) (*graph.Txn, error)
}

// Mapped is a decoded record that knows how to map itself into the graph.
type Mapped interface {
	// Process maps the record through one transaction.
	Process(g Opener) error
}

// Updater is implemented by records that need a fixup pass, such as
// identifier globalization, before Process.
type Updater interface {
	Update() error
}

// OffsetSetter is implemented by records that record their stream position
// in their transaction context.
type OffsetSetter interface {
	SetOffset(offset uint64)
}

// Apply opens a transaction with the given context, runs fn and commits.
// If fn fails the transaction is rolled back and fn's error is returned.
func Apply(g Opener, ctxType string, values map[string]string, fn func(tx *graph.Txn) error) error {
	tx, err := g.Begin(ctxType, values)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Debug("rollback after mapping error", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}
