// Package cache implements the two-tier federated search result cache:
// an unbounded in-process map with TTL expiry, backed by an optional
// durable domain.CacheBackend,
// fingerprinted by query+collections+filters+nodeIDs, with tag-based
// invalidation and singleflight stampede protection.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/infra/metrics"
)

// DefaultTTL is used when a caller does not specify one.
const DefaultTTL = 5 * time.Minute

// Cache is the in-process tier, optionally backed by a durable tier.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
	backend domain.CacheBackend // may be nil
	group   singleflight.Group
	ttl     time.Duration
}

// New constructs a Cache. backend may be nil to run memory-only.
func New(backend domain.CacheBackend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]domain.CacheEntry),
		backend: backend,
		ttl:     ttl,
	}
}

// Fingerprint derives a stable cache key from a query, the collections
// searched, arbitrary filters, and the set of node IDs queried — two
// identical searches against different node sets must not collide.
func Fingerprint(query string, collections []string, filters map[string]interface{}, nodeIDs []string) string {
	cols := append([]string(nil), collections...)
	sort.Strings(cols)
	ids := append([]string(nil), nodeIDs...)
	sort.Strings(ids)

	payload := struct {
		Query       string                 `json:"query"`
		Collections []string               `json:"collections"`
		Filters     map[string]interface{} `json:"filters"`
		NodeIDs     []string               `json:"nodeIds"`
	}{query, cols, filters, ids}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns a cached, non-expired SearchResponse for fingerprint, or
// nil if absent. It checks the in-process tier first, then falls back
// to the durable backend, promoting a durable hit back into memory.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*domain.SearchResponse, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if ok && !entry.Expired(time.Now()) {
		c.bumpHit(fingerprint)
		metrics.CacheHits.Inc()
		return decode(entry.Payload)
	}

	if c.backend != nil {
		be, err := c.backend.Get(ctx, fingerprint)
		if err == nil && be != nil {
			c.mu.Lock()
			c.entries[fingerprint] = *be
			c.mu.Unlock()
			metrics.CacheHits.Inc()
			return decode(be.Payload)
		}
	}

	metrics.CacheMisses.Inc()
	return nil, false
}

func (c *Cache) bumpHit(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[fingerprint]
	e.HitCount++
	c.entries[fingerprint] = e
}

// Put stores a SearchResponse under fingerprint, tagged for later
// targeted invalidation (typically one tag per collection searched).
func (c *Cache) Put(ctx context.Context, fingerprint, query string, nodeIDs []string, resp domain.SearchResponse, tags []string) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache: marshal response: %w", err)
	}
	now := time.Now()
	entry := domain.CacheEntry{
		Fingerprint: fingerprint,
		Query:       query,
		NodeIDs:     nodeIDs,
		Payload:     payload,
		ResultCount: len(resp.Results),
		ExpiresAt:   now.Add(c.ttl),
		CreatedAt:   now,
		Tags:        tags,
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[fingerprint] = entry
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Put(ctx, entry); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCacheBackendUnavailable, err)
		}
	}
	return nil
}

// Once coalesces concurrent lookups for the same fingerprint into a
// single compute call, preventing a cache-stampede on a cold key.
func (c *Cache) Once(fingerprint string, compute func() (domain.SearchResponse, error)) (domain.SearchResponse, error, bool) {
	v, err, shared := c.group.Do(fingerprint, func() (interface{}, error) {
		return compute()
	})
	if err != nil {
		return domain.SearchResponse{}, err, shared
	}
	return v.(domain.SearchResponse), nil, shared
}

// InvalidateNode drops every in-process entry whose node set includes
// nodeID (called when a node deregisters or its collections change).
func (c *Cache) InvalidateNode(ctx context.Context, nodeID string) int {
	c.mu.Lock()
	var dropped []string
	for fp, e := range c.entries {
		if e.HasNode(nodeID) {
			delete(c.entries, fp)
			dropped = append(dropped, fp)
		}
	}
	c.mu.Unlock()

	if c.backend != nil {
		for _, fp := range dropped {
			_ = c.backend.Forget(ctx, fp)
		}
	}
	return len(dropped)
}

// InvalidateTag drops every entry (in-process and, if present, durable)
// carrying tag, e.g. "collection:docs" after a reindex.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) int {
	c.mu.Lock()
	n := 0
	for fp, e := range c.entries {
		for _, t := range e.Tags {
			if t == tag {
				delete(c.entries, fp)
				n++
				break
			}
		}
	}
	c.mu.Unlock()

	if c.backend != nil {
		if dn, ok, err := c.backend.FlushByTag(ctx, tag); err == nil && ok {
			return max(n, dn)
		}
	}
	return n
}

// Purge removes every expired in-process entry. Intended to run on a
// periodic janitor tick.
func (c *Cache) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for fp, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, fp)
			n++
		}
	}
	return n
}

func decode(payload []byte) (*domain.SearchResponse, bool) {
	var resp domain.SearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}
