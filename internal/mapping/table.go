package mapping

import (
	"maps"
	"slices"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
)

// Func maps one record of type R through the transaction it is given.
// It must not retain tx beyond the call.
type Func[R any] func(rec R, tx *graph.Txn) error

// Table maps action tags to sub-mapping functions.
type Table[R any] map[string]Func[R]

// Dispatch invokes the function registered for action. An action with no
// entry is an UNKNOWN_ACTION error.
func (t Table[R]) Dispatch(action string, rec R, tx *graph.Txn) error {
	fn, ok := t[action]
	if !ok {
		return ir.NewUnknownActionError(action)
	}
	return fn(rec, tx)
}

// Actions returns the table's action tags in sorted order.
func (t Table[R]) Actions() []string {
	return slices.Sorted(maps.Keys(t))
}

// Ignore is a Func for actions that are recognized but carry no provenance.
func Ignore[R any](R, *graph.Txn) error {
	return nil
}
