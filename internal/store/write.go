package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
)

// WriteTypes records concrete type declarations.
// Uses ON CONFLICT(name) DO UPDATE so a journal reopened by a later run
// reflects that run's schemas.
func (s *Store) WriteTypes(ctx context.Context, types []ir.ConcreteType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write types: begin: %w", err)
	}
	defer tx.Rollback()

	for _, ct := range types {
		props, err := marshalProps(ct.Props)
		if err != nil {
			return fmt.Errorf("write type %s: %w", ct.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO types (name, category, props)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET category = excluded.category, props = excluded.props
		`, ct.Name, ct.Category.String(), props)
		if err != nil {
			return fmt.Errorf("write type %s: %w", ct.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write types: commit: %w", err)
	}
	return nil
}

// WriteChangeSet journals one committed change-set in a single SQL
// transaction. Writing the same change-set twice is a no-op.
//
// Node and edge rows referenced by the change-set must already be in the
// journal or be created by it; the graph's commit ordering guarantees this
// when WriteChangeSet runs as a commit hook.
func (s *Store) WriteChangeSet(ctx context.Context, cs ir.ChangeSet) error {
	id, err := ir.ChangeSetID(cs)
	if err != nil {
		return fmt.Errorf("write changeset %d: %w", cs.Seq, err)
	}
	values, err := marshalValues(cs.Context.Values)
	if err != nil {
		return fmt.Errorf("write changeset %d: %w", cs.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write changeset %d: begin: %w", cs.Seq, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO commits (seq, context_type, context, changeset_id, ops)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, cs.Seq, cs.Context.Type, values, id, len(cs.Ops))
	if err != nil {
		return fmt.Errorf("write changeset %d: %w", cs.Seq, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, m := range cs.Ops {
		if err := writeMutation(ctx, tx, cs.Seq, m); err != nil {
			return fmt.Errorf("write changeset %d: op %d (%s): %w", cs.Seq, i, m.Op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write changeset %d: commit: %w", cs.Seq, err)
	}
	return nil
}

func writeMutation(ctx context.Context, tx *sql.Tx, seq int64, m ir.Mutation) error {
	var err error
	switch m.Op {
	case ir.OpCreateNode:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (id, type, external_id, ctx) VALUES (?, ?, ?, ?)
		`, int64(m.Node), m.Type, m.ExternalID, seq)
	case ir.OpSetMeta:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_meta (node_id, key, value, ctx) VALUES (?, ?, ?, ?)
			ON CONFLICT(node_id, key) DO UPDATE SET value = excluded.value, ctx = excluded.ctx
		`, int64(m.Node), m.Key, m.Value, seq)
	case ir.OpSetName:
		_, err = tx.ExecContext(ctx, `UPDATE nodes SET name = ? WHERE id = ?`, m.Value, int64(m.Node))
	case ir.OpUnname:
		_, err = tx.ExecContext(ctx, `UPDATE nodes SET name = '' WHERE id = ? AND name = ?`, int64(m.Node), m.Value)
	case ir.OpAddEdge:
		// Repeated flows accumulate bytes and keep the first commit's context.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges (kind, src, dst, bytes, ctx) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(kind, src, dst) DO UPDATE SET bytes = bytes + excluded.bytes
		`, string(m.Kind), int64(m.Src), int64(m.Dst), m.Bytes, seq)
	default:
		err = fmt.Errorf("unknown op %q", m.Op)
	}
	return err
}

// Hook returns a commit hook that journals every committed change-set.
func (s *Store) Hook() graph.CommitHook {
	return func(cs ir.ChangeSet) error {
		return s.WriteChangeSet(context.Background(), cs)
	}
}

// Reset deletes all journaled graph state. Registered types are kept.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"edges", "node_meta", "nodes", "commits"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset: commit: %w", err)
	}
	return nil
}
