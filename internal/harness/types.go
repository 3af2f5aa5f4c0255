package harness

import (
	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ingest"
)

// Failure is a record that failed to map.
type Failure struct {
	Line    int    `json:"line"`
	Offset  uint64 `json:"offset"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Stream summarizes the ingested records.
	Stream ingest.Result `json:"stream"`

	// Failures lists failed records in stream order.
	Failures []Failure `json:"failures"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the committed graph after the last record.
	Snapshot graph.Snapshot `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Failures: []Failure{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
