// Package ir provides the provenance graph data model shared by every
// other package: type schemas, nodes, edges, contexts, change-sets and
// the structured MappingError.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Node handles are opaque and never reused within a process
//   - Metadata and context values are strings; numbers are rendered by the mapper
//   - All JSON tags use snake_case
//   - Commit order is a logical clock (seq), never a wall-clock timestamp
package ir
