package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// CacheStore implements domain.CacheBackend over a shared *sql.DB — the
// durable tier behind the in-process federated search cache (C6).
type CacheStore struct {
	db *sql.DB
}

// Put upserts a cache entry.
func (s *CacheStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	nodeIDs, err := json.Marshal(entry.NodeIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (fingerprint, query, node_ids, payload, result_count, duration_ms, expires_at, hit_count, created_at, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			query=excluded.query, node_ids=excluded.node_ids, payload=excluded.payload,
			result_count=excluded.result_count, duration_ms=excluded.duration_ms,
			expires_at=excluded.expires_at, hit_count=excluded.hit_count,
			created_at=excluded.created_at, tags=excluded.tags`,
		entry.Fingerprint, entry.Query, nodeIDs, entry.Payload, entry.ResultCount,
		entry.DurationMs, entry.ExpiresAt.Unix(), entry.HitCount, entry.CreatedAt.Unix(),
		strings.Join(entry.Tags, ","),
	)
	return err
}

// Get retrieves a cache entry by fingerprint, or nil if absent/expired.
func (s *CacheStore) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	var e domain.CacheEntry
	var nodeIDs []byte
	var expiresAt, createdAt int64
	var tags string
	err := s.db.QueryRowContext(ctx,
		`SELECT query, node_ids, payload, result_count, duration_ms, expires_at, hit_count, created_at, tags
		 FROM cache_entries WHERE fingerprint = ?`, fingerprint,
	).Scan(&e.Query, &nodeIDs, &e.Payload, &e.ResultCount, &e.DurationMs, &expiresAt, &e.HitCount, &createdAt, &tags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodeIDs, &e.NodeIDs); err != nil {
		return nil, err
	}
	e.Fingerprint = fingerprint
	e.ExpiresAt = time.Unix(expiresAt, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	if tags != "" {
		e.Tags = strings.Split(tags, ",")
	}
	if e.Expired(time.Now()) {
		return nil, nil
	}
	return &e, nil
}

// Forget removes a single cache entry.
func (s *CacheStore) Forget(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint)
	return err
}

// FlushByTag removes every entry whose tag list contains tag, reporting
// how many rows were deleted. Always supported by this backend.
func (s *CacheStore) FlushByTag(ctx context.Context, tag string) (int, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, tags FROM cache_entries`)
	if err != nil {
		return 0, true, err
	}
	var toDelete []string
	for rows.Next() {
		var fp, tags string
		if err := rows.Scan(&fp, &tags); err != nil {
			rows.Close()
			return 0, true, err
		}
		for _, t := range strings.Split(tags, ",") {
			if t == tag {
				toDelete = append(toDelete, fp)
				break
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, true, err
	}

	for _, fp := range toDelete {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE fingerprint = ?`, fp); err != nil {
			return 0, true, err
		}
	}
	return len(toDelete), true, nil
}

// PurgeExpired deletes every cache row past its expiry. Nothing in this
// repository calls it on a schedule: the daemon starts no cache janitor,
// so expired rows stay in the table until a caller runs it.
func (s *CacheStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
