// Package registry owns the CRUD and operational view of the node
// fleet: registration, the short-lived active-nodes cache, the
// background ping loop, and collection ownership lookup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/infra/metrics"
	"github.com/mabou7agar/nodefabric/internal/namematch"
)

// ErrDuplicateSlug is returned by Register when the requested slug is
// already taken.
var ErrDuplicateSlug = errors.New("registry: slug already registered")

// ActiveCacheTTL bounds how long the active-nodes view is served from
// cache before the next call recomputes it.
const ActiveCacheTTL = 5 * time.Minute

// Pinger performs the authenticated health GET against a node,
// returning the advertised metadata. Implemented by internal/forwarder
// (or a thin wrapper over internal/httpclient) to avoid an import cycle
// between registry and the transport layer.
type Pinger interface {
	Ping(ctx context.Context, n *domain.Node) (domain.AdvertisedMetadata, error)
}

// Registry holds every known node in memory, optionally persisted
// through a domain.NodeStore.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*domain.Node // keyed by slug
	store domain.NodeStore        // may be nil (memory-only)
	pinger Pinger                 // may be nil (no background ping)
	breakers *breaker.Registry

	activeCache      []domain.Node
	activeCacheAt    time.Time
	collectionCache  map[string]string // modelClass -> node slug
}

// New constructs a Registry. store and pinger may be nil.
func New(store domain.NodeStore, pinger Pinger, breakers *breaker.Registry) *Registry {
	return &Registry{
		nodes:           make(map[string]*domain.Node),
		store:           store,
		pinger:          pinger,
		breakers:        breakers,
		collectionCache: make(map[string]string),
	}
}

// Load populates the in-memory registry from the durable store, if any.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	nodes, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		r.nodes[n.Slug] = n
	}
	return nil
}

// RegisterInput is the caller-supplied shape for Register.
type RegisterInput struct {
	Slug        string // optional; derived from Name if empty
	Name        string
	Type        domain.NodeType
	BaseURL     string
	APIKey      string
	Weight      int
	Capabilities []string
	Collections  []domain.Collection
	Domains      []string
	DataTypes    []string
	Keywords     []string
	Workflows    []string
}

// Register allocates a slug and API key if absent, validates, pings
// once, and stores the resulting node.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*domain.Node, error) {
	slug := in.Slug
	if slug == "" {
		slug = slugify(in.Name)
	}

	r.mu.Lock()
	if _, exists := r.nodes[slug]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicateSlug
	}
	r.mu.Unlock()

	weight := in.Weight
	if weight < 1 {
		weight = 1
	}
	apiKey := in.APIKey
	if apiKey == "" {
		apiKey = uuid.NewString()
	}

	now := time.Now()
	node := &domain.Node{
		ID:           uuid.NewString(),
		Slug:         slug,
		Name:         in.Name,
		Type:         in.Type,
		BaseURL:      in.BaseURL,
		APIKey:       apiKey,
		Weight:       weight,
		Status:       domain.StatusActive,
		Capabilities: in.Capabilities,
		Collections:  in.Collections,
		Domains:      in.Domains,
		DataTypes:    in.DataTypes,
		Keywords:     in.Keywords,
		Workflows:    in.Workflows,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.nodes[slug] = node
	r.invalidateCaches()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(ctx, node); err != nil {
			return nil, fmt.Errorf("registry: persist node: %w", err)
		}
	}

	if r.pinger != nil {
		_, _ = r.Ping(ctx, node)
	}

	log.Info().Str("slug", slug).Str("baseUrl", in.BaseURL).Msg("node registered")
	return node, nil
}

// Unregister removes a node from the registry and the store.
func (r *Registry) Unregister(ctx context.Context, slug string) error {
	r.mu.Lock()
	node, ok := r.nodes[slug]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNodeNotFound
	}
	delete(r.nodes, slug)
	r.invalidateCaches()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Delete(ctx, node.ID); err != nil {
			return fmt.Errorf("registry: delete node: %w", err)
		}
	}
	return nil
}

// Get returns a node by slug.
func (r *Registry) Get(slug string) (*domain.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[slug]
	return n, ok
}

// All returns every known node, active or not.
func (r *Registry) All() []domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.Snapshot())
	}
	return out
}

// GetActiveNodes returns active and healthy nodes from a short-lived
// cache, recomputing it once ActiveCacheTTL has elapsed.
func (r *Registry) GetActiveNodes() []domain.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.activeCacheAt) < ActiveCacheTTL && r.activeCache != nil {
		return r.activeCache
	}

	var active []domain.Node
	for _, n := range r.nodes {
		if n.IsHealthy(domain.DefaultPingFailureThreshold, domain.DefaultFreshnessWindow) {
			active = append(active, n.Snapshot())
		}
	}
	r.activeCache = active
	r.activeCacheAt = time.Now()
	return active
}

// UpdateStatus sets a node's status and invalidates the active-nodes
// and per-collection caches.
func (r *Registry) UpdateStatus(slug string, status domain.NodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[slug]
	if !ok {
		return domain.ErrNodeNotFound
	}
	n.SetStatus(status)
	r.invalidateCaches()
	return nil
}

// RecordAttemptSuccess updates the real (non-snapshot) node's latency
// and success counters after a forwarded call succeeds. Forwarder
// dispatches against GetActiveNodes snapshots, so without this the
// balancer would keep scoring nodes on stale ping-loop-only stats.
func (r *Registry) RecordAttemptSuccess(slug string, latency time.Duration) {
	r.mu.Lock()
	n, ok := r.nodes[slug]
	r.mu.Unlock()
	if !ok {
		return
	}
	n.RecordSuccess(latency)
}

// RecordAttemptFailure updates the real node's failure counter after a
// forwarded call fails.
func (r *Registry) RecordAttemptFailure(slug string) {
	r.mu.Lock()
	n, ok := r.nodes[slug]
	r.mu.Unlock()
	if !ok {
		return
	}
	n.RecordFailure()
}

// IncrActiveConns increments the real node's in-flight counter for slug.
func (r *Registry) IncrActiveConns(slug string) {
	r.mu.Lock()
	n, ok := r.nodes[slug]
	r.mu.Unlock()
	if !ok {
		return
	}
	n.IncrActiveConns()
}

// DecrActiveConns decrements the real node's in-flight counter for slug.
func (r *Registry) DecrActiveConns(slug string) {
	r.mu.Lock()
	n, ok := r.nodes[slug]
	r.mu.Unlock()
	if !ok {
		return
	}
	n.DecrActiveConns()
}

// invalidateCaches must be called with mu held.
func (r *Registry) invalidateCaches() {
	r.activeCache = nil
	r.activeCacheAt = time.Time{}
	r.collectionCache = make(map[string]string)
}

// Ping sends an authenticated health GET to node, merging advertised
// metadata on success and recording breaker/ping-failure state on
// failure. Latency is recorded via exponential smoothing.
func (r *Registry) Ping(ctx context.Context, n *domain.Node) (bool, error) {
	if r.pinger == nil {
		return false, errors.New("registry: no pinger configured")
	}
	start := time.Now()
	meta, err := r.pinger.Ping(ctx, n)
	latency := time.Since(start)

	if err != nil {
		n.RecordPingFailure()
		metrics.NodePingFailures.WithLabelValues(n.Slug).Inc()
		if r.breakers != nil {
			r.breakers.For(n.Slug).RecordFailure()
		}
		return false, err
	}

	n.RecordPingSuccess(time.Now())
	n.RecordSuccess(latency)
	n.MergeAdvertisedMetadata(meta)
	if r.breakers != nil {
		r.breakers.For(n.Slug).RecordSuccess()
	}

	r.mu.Lock()
	r.invalidateCaches()
	r.mu.Unlock()
	return true, nil
}

// RunPingLoop pings every known node on interval until ctx is done.
func (r *Registry) RunPingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range r.snapshotPointers() {
				if _, err := r.Ping(ctx, n); err != nil {
					log.Warn().Str("slug", n.Slug).Err(err).Msg("ping failed")
				}
			}
		}
	}
}

func (r *Registry) snapshotPointers() []*domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// FindNodeForCollection returns the active node owning modelClass,
// matched via namematch, caching the result per modelClass until the
// next mutation invalidates it.
func (r *Registry) FindNodeForCollection(modelClass string) (*domain.Node, bool) {
	r.mu.Lock()
	if slug, ok := r.collectionCache[modelClass]; ok {
		n := r.nodes[slug]
		r.mu.Unlock()
		if n != nil {
			return n, true
		}
		return nil, false
	}
	r.mu.Unlock()

	for _, n := range r.GetActiveNodes() {
		if NodeOwnsCollection(n, modelClass) {
			r.mu.Lock()
			r.collectionCache[modelClass] = n.Slug
			r.mu.Unlock()
			node, _ := r.Get(n.Slug)
			return node, true
		}
	}
	return nil, false
}

// NodeOwnsCollection reports whether n advertises modelClass, by exact,
// basename, or singular/plural match.
func NodeOwnsCollection(n domain.Node, modelClass string) bool {
	base := basename(modelClass)
	for _, c := range n.Collections {
		if namematch.Matches(c.ModelClass, modelClass) || namematch.Matches(c.ModelClass, base) {
			return true
		}
	}
	return false
}

func basename(modelClass string) string {
	idx := strings.LastIndex(modelClass, "\\")
	if idx == -1 {
		return modelClass
	}
	return modelClass[idx+1:]
}

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return uuid.NewString()
	}
	return out
}
