package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pvm/internal/ir"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// LastSeq returns the highest journaled commit seq, or 0 for an empty
// journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM commits`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// CountNodesByType returns the number of journaled nodes per concrete type.
func (s *Store) CountNodesByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM nodes GROUP BY type ORDER BY type COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan node count: %w", err)
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node counts: %w", err)
	}
	return counts, nil
}

// CountEdgesByKind returns the number of journaled edges per kind.
func (s *Store) CountEdgesByKind(ctx context.Context) (map[ir.EdgeKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM edges GROUP BY kind ORDER BY kind COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	defer rows.Close()

	counts := make(map[ir.EdgeKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan edge count: %w", err)
		}
		counts[ir.EdgeKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edge counts: %w", err)
	}
	return counts, nil
}

// ReadNodes returns all journaled nodes with their metadata, ordered by
// handle. Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadNodes(ctx context.Context) ([]ir.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.type, t.category, n.external_id, n.name, n.ctx
		FROM nodes n JOIN types t ON t.name = n.type
		ORDER BY n.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []ir.Node{}
	index := make(map[ir.NodeID]int)
	for rows.Next() {
		var n ir.Node
		var id int64
		var category string
		if err := rows.Scan(&id, &n.Type, &category, &n.ExternalID, &n.Name, &n.Ctx); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.ID = ir.NodeID(id)
		if n.Category, err = ir.ParseCategory(category); err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		n.Meta = make(map[string]ir.MetaValue)
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	if err := s.readMeta(ctx, nodes, index); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *Store) readMeta(ctx context.Context, nodes []ir.Node, index map[ir.NodeID]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, key, value, ctx FROM node_meta ORDER BY node_id ASC, key COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("query node meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var key string
		var mv ir.MetaValue
		if err := rows.Scan(&id, &key, &mv.Value, &mv.Ctx); err != nil {
			return fmt.Errorf("scan node meta: %w", err)
		}
		i, ok := index[ir.NodeID(id)]
		if !ok {
			return fmt.Errorf("meta %q references unknown node %d", key, id)
		}
		nodes[i].Meta[key] = mv
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate node meta: %w", err)
	}
	return nil
}

// ReadEdges returns all journaled edges in insertion order.
// Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadEdges(ctx context.Context) ([]ir.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, src, dst, bytes, ctx FROM edges ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	edges := []ir.Edge{}
	for rows.Next() {
		var e ir.Edge
		var id, src, dst int64
		var kind string
		if err := rows.Scan(&id, &kind, &src, &dst, &e.Bytes, &e.Ctx); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.ID = ir.EdgeID(id)
		e.Kind = ir.EdgeKind(kind)
		e.Src = ir.NodeID(src)
		e.Dst = ir.NodeID(dst)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

// ReadContext returns the context journaled for a commit.
// Returns ErrNotFound if no commit has that seq.
func (s *Store) ReadContext(ctx context.Context, seq int64) (ir.Context, error) {
	var c ir.Context
	var values string
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, context_type, context FROM commits WHERE seq = ?
	`, seq).Scan(&c.Seq, &c.Type, &values)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Context{}, fmt.Errorf("context %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return ir.Context{}, fmt.Errorf("read context %d: %w", seq, err)
	}
	if c.Values, err = unmarshalValues(values); err != nil {
		return ir.Context{}, err
	}
	return c, nil
}

// ChangeSetID returns the content-addressed id journaled for a commit.
func (s *Store) ChangeSetID(ctx context.Context, seq int64) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT changeset_id FROM commits WHERE seq = ?`, seq).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("changeset %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read changeset id %d: %w", seq, err)
	}
	return id, nil
}
