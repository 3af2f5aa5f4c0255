// Package harness runs mapping conformance scenarios.
//
// A scenario feeds a short list of trace records through a trace format
// into a fresh graph and checks the committed result.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	format: cadets
//	schema: types.cue          # optional, relative to the scenario file
//	journal: true              # also journal to an in-memory SQLite store
//	records:
//	  - {event: "audit:event:aue_execve:", ...}
//	  - "not json"             # strings are used verbatim
//	assertions:
//	  - type: node
//	    node: {type: process, meta: {cmdline: "/bin/ls"}}
//	  - type: edge
//	    kind: source
//	    src: {type: file, name: /bin/ls}
//	    dst: {type: process}
//	    bytes: 0
//	  - type: node_count
//	    node_type: process
//	    count: 2
//	  - type: record_failed
//	    line: 2
//	    code: UNKNOWN_ACTION
//
// # Assertion Types
//
//   - node: some committed node matches the node pattern
//   - edge: some committed edge of kind joins nodes matching src and dst
//   - node_count: exactly count nodes of node_type (or of any type)
//   - edge_count: exactly count edges of kind (or of any kind)
//   - record_failed: the record on line failed, with code if given
//   - failure_count: exactly count records failed
//
// Node patterns match on a subset of type, external_id, name and meta.
//
// # Golden Files
//
// RunWithGolden compares the canonical graph and the failed records
// against testdata/golden/{scenario.Name}.golden. Canonical graphs are
// keyed by identity, so goldens do not depend on handle numbering.
package harness
