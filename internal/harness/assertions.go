package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/pvm/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertNode:
		return assertNode(result, a)
	case AssertEdge:
		return assertEdge(result, a)
	case AssertNodeCount:
		return assertNodeCount(result, a)
	case AssertEdgeCount:
		return assertEdgeCount(result, a)
	case AssertRecordFailed:
		return assertRecordFailed(result, a)
	case AssertFailureCount:
		return assertFailureCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// matches reports whether n satisfies the pattern.
func (m *NodeMatch) matches(n ir.Node) bool {
	if m.Type != "" && m.Type != n.Type {
		return false
	}
	if m.ExternalID != "" && m.ExternalID != n.ExternalID {
		return false
	}
	if m.Name != "" && m.Name != n.Name {
		return false
	}
	for k, v := range m.Meta {
		mv, ok := n.Meta[k]
		if !ok || mv.Value != v {
			return false
		}
	}
	return true
}

func (m *NodeMatch) String() string {
	var parts []string
	if m.Type != "" {
		parts = append(parts, "type="+m.Type)
	}
	if m.ExternalID != "" {
		parts = append(parts, "external_id="+m.ExternalID)
	}
	if m.Name != "" {
		parts = append(parts, "name="+m.Name)
	}
	for _, k := range ir.SortedKeys(m.Meta) {
		parts = append(parts, fmt.Sprintf("meta.%s=%s", k, m.Meta[k]))
	}
	if len(parts) == 0 {
		return "{any}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func assertNode(result *Result, a Assertion) error {
	for _, n := range result.Snapshot.Nodes {
		if a.Node.matches(n) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertNode,
		Expected: "node matching " + a.Node.String(),
		Actual:   fmt.Sprintf("no match among %d nodes", len(result.Snapshot.Nodes)),
	}
}

func assertEdge(result *Result, a Assertion) error {
	nodes := make(map[ir.NodeID]ir.Node, len(result.Snapshot.Nodes))
	for _, n := range result.Snapshot.Nodes {
		nodes[n.ID] = n
	}

	var wrongBytes []int64
	for _, e := range result.Snapshot.Edges {
		if string(e.Kind) != a.Kind {
			continue
		}
		if !a.Src.matches(nodes[e.Src]) || !a.Dst.matches(nodes[e.Dst]) {
			continue
		}
		if a.Bytes != nil && *a.Bytes != e.Bytes {
			wrongBytes = append(wrongBytes, e.Bytes)
			continue
		}
		return nil
	}

	expected := fmt.Sprintf("%s edge %s -> %s", a.Kind, a.Src, a.Dst)
	actual := "not found"
	if a.Bytes != nil {
		expected += fmt.Sprintf(" with %d bytes", *a.Bytes)
		if len(wrongBytes) > 0 {
			actual = fmt.Sprintf("found with bytes %v", wrongBytes)
		}
	}
	return &AssertionError{Type: AssertEdge, Expected: expected, Actual: actual}
}

func assertNodeCount(result *Result, a Assertion) error {
	count := 0
	for _, n := range result.Snapshot.Nodes {
		if a.NodeType == "" || n.Type == a.NodeType {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertNodeCount,
			Expected: fmt.Sprintf("%d nodes of type %q", *a.Count, a.NodeType),
			Actual:   fmt.Sprintf("%d", count),
		}
	}
	return nil
}

func assertEdgeCount(result *Result, a Assertion) error {
	count := 0
	for _, e := range result.Snapshot.Edges {
		if a.Kind == "" || string(e.Kind) == a.Kind {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertEdgeCount,
			Expected: fmt.Sprintf("%d edges of kind %q", *a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", count),
		}
	}
	return nil
}

func assertRecordFailed(result *Result, a Assertion) error {
	for _, f := range result.Failures {
		if f.Line != a.Line {
			continue
		}
		if a.Code != "" && f.Code != a.Code {
			return &AssertionError{
				Type:     AssertRecordFailed,
				Expected: fmt.Sprintf("line %d failed with %s", a.Line, a.Code),
				Actual:   fmt.Sprintf("failed with %q: %s", f.Code, f.Message),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordFailed,
		Expected: fmt.Sprintf("line %d failed", a.Line),
		Actual:   "record committed",
	}
}

func assertFailureCount(result *Result, a Assertion) error {
	if len(result.Failures) != *a.Count {
		lines := make([]int, len(result.Failures))
		for i, f := range result.Failures {
			lines[i] = f.Line
		}
		return &AssertionError{
			Type:     AssertFailureCount,
			Expected: fmt.Sprintf("%d failed records", *a.Count),
			Actual:   fmt.Sprintf("%d failed records (lines %v)", len(result.Failures), lines),
		}
	}
	return nil
}
