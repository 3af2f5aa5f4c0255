package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/pvm/internal/ir"
)

func TestNodeMatch(t *testing.T) {
	n := ir.Node{
		ID:         1,
		Type:       "PROC",
		ExternalID: "P1",
		Name:       "init",
		Meta: map[string]ir.MetaValue{
			"cmdline": {Value: "/sbin/init", Ctx: 1},
			"pid":     {Value: "1", Ctx: 1},
		},
	}

	tests := []struct {
		name  string
		match NodeMatch
		want  bool
	}{
		{"empty matches anything", NodeMatch{}, true},
		{"type", NodeMatch{Type: "PROC"}, true},
		{"wrong type", NodeMatch{Type: "FILE"}, false},
		{"external id", NodeMatch{ExternalID: "P1"}, true},
		{"name", NodeMatch{Name: "init"}, true},
		{"wrong name", NodeMatch{Name: "sh"}, false},
		{"meta subset", NodeMatch{Meta: map[string]string{"pid": "1"}}, true},
		{"meta value differs", NodeMatch{Meta: map[string]string{"pid": "2"}}, false},
		{"meta key absent", NodeMatch{Meta: map[string]string{"uid": "0"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.match.matches(n))
		})
	}
}

func TestNodeMatchString(t *testing.T) {
	assert.Equal(t, "{any}", (&NodeMatch{}).String())
	assert.Equal(t, "{type=PROC meta.a=1 meta.b=2}",
		(&NodeMatch{Type: "PROC", Meta: map[string]string{"b": "2", "a": "1"}}).String())
}

func TestAssertionErrorFormat(t *testing.T) {
	err := &AssertionError{Type: AssertNodeCount, Expected: "2", Actual: "3"}
	assert.Equal(t, "Assertion failed: node_count\n  Expected: 2\n  Actual: 3", err.Error())
}

func TestEdgeAssertionOnEmptyGraph(t *testing.T) {
	err := assertEdge(NewResult(), Assertion{
		Type: AssertEdge,
		Kind: "source",
		Src:  &NodeMatch{},
		Dst:  &NodeMatch{},
	})
	assert.EqualError(t, err, "Assertion failed: edge\n  Expected: source edge {any} -> {any}\n  Actual: not found")
}
