package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a mapping conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Format is the trace format name.
	Format string `yaml:"format"`

	// Schema is an optional CUE file of extra type declarations.
	// Relative paths are resolved against the scenario file.
	Schema string `yaml:"schema,omitempty"`

	// Journal also writes every commit to an in-memory journal and checks
	// that it agrees with the graph.
	Journal bool `yaml:"journal,omitempty"`

	// Shards is the number of graph lock shards. 0 means the default.
	Shards int `yaml:"shards,omitempty"`

	// Records are the trace records, one per line. Strings are used
	// verbatim; anything else is encoded as JSON.
	Records []any `yaml:"records"`

	// Assertions validate the committed graph and failed records.
	Assertions []Assertion `yaml:"assertions"`
}

// NodeMatch is a node pattern. Empty fields match anything; Meta is a
// subset match.
type NodeMatch struct {
	Type       string            `yaml:"type,omitempty"`
	ExternalID string            `yaml:"external_id,omitempty"`
	Name       string            `yaml:"name,omitempty"`
	Meta       map[string]string `yaml:"meta,omitempty"`
}

// Assertion validates the graph or the failed records.
type Assertion struct {
	// Type specifies the assertion type:
	// - "node": a node matches Node
	// - "edge": an edge of Kind joins nodes matching Src and Dst
	// - "node_count": count nodes of NodeType
	// - "edge_count": count edges of Kind
	// - "record_failed": the record on Line failed with Code
	// - "failure_count": count failed records
	Type string `yaml:"type"`

	Node *NodeMatch `yaml:"node,omitempty"`
	Src  *NodeMatch `yaml:"src,omitempty"`
	Dst  *NodeMatch `yaml:"dst,omitempty"`

	// Kind is the edge kind (used by edge, edge_count).
	Kind string `yaml:"kind,omitempty"`

	// Bytes is the expected accumulated byte count (used by edge).
	Bytes *int64 `yaml:"bytes,omitempty"`

	// NodeType restricts node_count to one concrete type.
	NodeType string `yaml:"node_type,omitempty"`

	// Count is the expected number (used by *_count).
	Count *int `yaml:"count,omitempty"`

	// Line is the 1-based record line (used by record_failed).
	Line int `yaml:"line,omitempty"`

	// Code is the expected error code (used by record_failed).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertNode         = "node"
	AssertEdge         = "edge"
	AssertNodeCount    = "node_count"
	AssertEdgeCount    = "edge_count"
	AssertRecordFailed = "record_failed"
	AssertFailureCount = "failure_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}

	if s.Description == "" {
		return errors.New("description is required")
	}

	if s.Format == "" {
		return errors.New("format is required")
	}

	if len(s.Records) == 0 {
		return errors.New("records list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	if s.Schema != "" {
		if _, err := os.Stat(s.Schema); err != nil {
			return fmt.Errorf("schema not found: %s", s.Schema)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNode:
		if a.Node == nil {
			return fmt.Errorf("assertions[%d]: node is required for node", index)
		}
	case AssertEdge:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for edge", index)
		}
		if a.Src == nil || a.Dst == nil {
			return fmt.Errorf("assertions[%d]: src and dst are required for edge", index)
		}
	case AssertNodeCount, AssertEdgeCount, AssertFailureCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRecordFailed:
		if a.Line <= 0 {
			return fmt.Errorf("assertions[%d]: line is required for record_failed", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
