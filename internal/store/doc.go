// Package store provides a SQLite-backed journal of committed change-sets.
//
// The store mirrors the committed graph:
//   - Commits: one row per commit with its context and change-set id
//   - Types: the concrete types registered at startup
//   - Nodes and node metadata
//   - Edges: unique per (kind, src, dst), with accumulated byte counts
//
// Every change-set is written in one SQL transaction, so the journal never
// holds part of a commit. Rows reference the commit that created them by
// its seq.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// PRAGMA user_version holds the change-set format (ir.ChangeSetVersion).
// Open stamps new journals and refuses ones written in another format.
//
// Change-set ids are computed by ir.ChangeSetID using RFC 8785 canonical
// JSON and SHA-256 with domain separation.
package store
