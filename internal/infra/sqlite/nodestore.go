package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// NodeStore implements domain.NodeStore over a shared *sql.DB.
type NodeStore struct {
	db *sql.DB
}

// Save upserts a node record, serializing its snapshot as JSON.
func (s *NodeStore) Save(ctx context.Context, n *domain.Node) error {
	snap := n.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, slug, record, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, record=excluded.record, updated_at=excluded.updated_at`,
		snap.ID, snap.Slug, raw, time.Now().Unix(),
	)
	return err
}

// Get retrieves a node by ID.
func (s *NodeStore) Get(ctx context.Context, id string) (*domain.Node, error) {
	return s.scanOne(ctx, `SELECT record FROM nodes WHERE id = ?`, id)
}

// GetBySlug retrieves a node by its slug.
func (s *NodeStore) GetBySlug(ctx context.Context, slug string) (*domain.Node, error) {
	return s.scanOne(ctx, `SELECT record FROM nodes WHERE slug = ?`, slug)
}

func (s *NodeStore) scanOne(ctx context.Context, query string, arg string) (*domain.Node, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	var n domain.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return &n, nil
}

// List returns every stored node.
func (s *NodeStore) List(ctx context.Context) ([]*domain.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM nodes ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Node
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var n domain.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("unmarshal node: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Delete removes a node record.
func (s *NodeStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrNodeNotFound
	}
	return nil
}
