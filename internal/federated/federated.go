// Package federated implements Federated Search (C12): fingerprinted
// cache lookup, candidate resolution, local search, true-parallel peer
// fan-out under breaker/load-balancer control, and result merge, with a
// local-only fallback on any uncaught error. It also implements the
// cross-node action transaction and the Aggregate operation described
// in the node fabric's supplemental data.
package federated

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mabou7agar/nodefabric/internal/balancer"
	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/cache"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/forwarder"
	"github.com/mabou7agar/nodefabric/internal/infra/metrics"
	"github.com/mabou7agar/nodefabric/internal/merge"
)

// DefaultPeerTimeout is the per-peer search timeout; DefaultGrace is
// added on top of the slowest peer timeout to derive the overall
// search deadline.
const (
	DefaultPeerTimeout = 30 * time.Second
	DefaultGrace       = 2 * time.Second
	DefaultMaxNodes    = 5
)

// NodeSource resolves active/child candidate nodes, implemented by
// internal/registry.
type NodeSource interface {
	GetActiveNodes() []domain.Node
}

// Config controls fan-out limits and the default merge strategy.
type Config struct {
	PeerTimeout   time.Duration
	Grace         time.Duration
	MaxNodes      int
	MergeStrategy merge.Strategy
}

func (c Config) withDefaults() Config {
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = DefaultPeerTimeout
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = DefaultMaxNodes
	}
	if c.MergeStrategy == "" {
		c.MergeStrategy = merge.Score
	}
	return c
}

// Service orchestrates federated search, action transactions, and
// aggregate across the local node and its registered peers.
type Service struct {
	cfg       Config
	nodeSlug  string
	registry  NodeSource
	breakers  *breaker.Registry
	balancer  *balancer.Balancer
	forwarder *forwarder.Forwarder
	cache     *cache.Cache
	local     domain.VectorSearchEngine // may be nil
}

// New constructs a Service. local may be nil if this node has nothing
// to search locally.
func New(cfg Config, nodeSlug string, registry NodeSource, breakers *breaker.Registry, bal *balancer.Balancer, fwd *forwarder.Forwarder, c *cache.Cache, local domain.VectorSearchEngine) *Service {
	return &Service{
		cfg: cfg.withDefaults(), nodeSlug: nodeSlug, registry: registry,
		breakers: breakers, balancer: bal, forwarder: fwd, cache: c, local: local,
	}
}

// Search implements the 7-step federated search pipeline described in
// spec §4.12. Concurrent identical queries (same fingerprint) coalesce
// onto a single pipeline run via Cache.Once, preventing a cache
// stampede against the candidate node set.
func (s *Service) Search(ctx context.Context, query string, nodeIDs []string, limit int, opts domain.SearchOptions) domain.SearchResponse {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	fingerprint := cache.Fingerprint(query, opts.Collections, opts.Filters, nodeIDs)

	compute := func() (domain.SearchResponse, error) {
		resp, err := s.runPipeline(ctx, query, nodeIDs, limit, opts)
		if err != nil {
			log.Warn().Err(err).Str("query", query).Msg("federated: search pipeline failed, returning local-only fallback")
			resp = s.localOnlyFallback(ctx, query, limit, opts)
		}
		return resp, nil
	}

	if s.cache == nil {
		resp, _ := compute()
		return resp
	}

	if cached, ok := s.cache.Get(ctx, fingerprint); ok {
		return *cached
	}

	resp, _, shared := s.cache.Once(fingerprint, compute)
	if !shared {
		tags := collectionTags(opts.Collections)
		_ = s.cache.Put(ctx, fingerprint, query, nodeIDs, resp, tags)
	}
	return resp
}

func collectionTags(collections []string) []string {
	tags := make([]string, 0, len(collections))
	for _, c := range collections {
		tags = append(tags, "collection:"+c)
	}
	return tags
}

func (s *Service) runPipeline(ctx context.Context, query string, nodeIDs []string, limit int, opts domain.SearchOptions) (domain.SearchResponse, error) {
	deadline := s.cfg.PeerTimeout + s.cfg.Grace
	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var localResults []domain.SearchResult
	if s.local != nil {
		res, err := s.local.Search(searchCtx, query, opts.Collections, opts)
		if err != nil {
			return domain.SearchResponse{}, fmt.Errorf("federated: local search: %w", err)
		}
		localResults = res
	}

	candidates := s.resolveCandidates(nodeIDs)
	selected := s.filterAvailable(candidates)

	remoteResults, searched, breakdown, partial := s.fanOut(searchCtx, selected, query, opts)

	all := append(localResults, remoteResults...)
	merged, _ := merge.Merge(all, s.cfg.MergeStrategy, limit, s.nodeSlug)

	nodeBreakdown := map[string]int{}
	if len(localResults) > 0 {
		nodeBreakdown[s.nodeSlug] = len(localResults)
	}
	for slug, n := range breakdown {
		nodeBreakdown[slug] = n
	}

	resp := domain.SearchResponse{
		Query:         query,
		TotalResults:  len(merged),
		Results:       merged,
		NodesSearched: searched + 1,
		NodeBreakdown: nodeBreakdown,
		MergeStrategy: string(s.cfg.MergeStrategy),
		Partial:       partial,
	}
	resp.AvgScore = averageScore(merged)
	return resp, nil
}

func averageScore(results []domain.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// resolveCandidates narrows the active/child node set to nodeIDs, if
// provided.
func (s *Service) resolveCandidates(nodeIDs []string) []domain.Node {
	active := s.registry.GetActiveNodes()
	if len(nodeIDs) == 0 {
		return active
	}
	want := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		want[id] = true
	}
	var out []domain.Node
	for _, n := range active {
		if want[n.Slug] || want[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// filterAvailable drops nodes whose breaker is open, then caps the
// remainder at MaxNodes using the load balancer's selection order.
func (s *Service) filterAvailable(candidates []domain.Node) []domain.Node {
	var open []domain.Node
	for _, n := range candidates {
		if s.breakers != nil {
			if err := s.breakers.For(n.Slug).Allow(); err != nil {
				continue
			}
		}
		open = append(open, n)
	}

	if s.balancer == nil {
		if len(open) > s.cfg.MaxNodes {
			return open[:s.cfg.MaxNodes]
		}
		return open
	}
	return s.balancer.SelectNodes(open, s.cfg.MaxNodes)
}

// fanOut dispatches true-parallel search requests to every selected
// node, cancellable via ctx, and returns whatever results arrived
// before the deadline along with a partial flag.
func (s *Service) fanOut(ctx context.Context, nodes []domain.Node, query string, opts domain.SearchOptions) ([]domain.SearchResult, int, map[string]int, bool) {
	if len(nodes) == 0 {
		return nil, 0, nil, false
	}

	type outcome struct {
		slug    string
		results []domain.SearchResult
		ok      bool
	}

	ch := make(chan outcome, len(nodes))
	var wg sync.WaitGroup
	for i := range nodes {
		node := nodes[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := map[string]interface{}{"query": query, "collections": opts.Collections, "filters": opts.Filters, "threshold": opts.Threshold}
			result := s.forwarder.ForwardSearch(ctx, &node, firstCollection(opts.Collections), body)
			if !result.Success {
				ch <- outcome{slug: node.Slug}
				return
			}
			var remote domain.SearchResponse
			if err := json.Unmarshal(result.Payload, &remote); err != nil {
				ch <- outcome{slug: node.Slug}
				return
			}
			for i := range remote.Results {
				if remote.Results[i].SourceNode == "" {
					remote.Results[i].SourceNode = node.Slug
				}
			}
			ch <- outcome{slug: node.Slug, results: remote.Results, ok: true}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var results []domain.SearchResult
	breakdown := map[string]int{}
	searched := 0
	partial := false

collect:
	for {
		select {
		case o, open := <-ch:
			if !open {
				break collect
			}
			searched++
			if o.ok {
				results = append(results, o.results...)
				breakdown[o.slug] = len(o.results)
			}
		case <-ctx.Done():
			partial = true
			break collect
		}
		if searched == len(nodes) {
			break collect
		}
	}
	return results, searched, breakdown, partial
}

func firstCollection(collections []string) string {
	if len(collections) == 0 {
		return ""
	}
	return collections[0]
}

// localOnlyFallback is returned when any uncaught error escapes the
// pipeline (spec §4.12 step 7).
func (s *Service) localOnlyFallback(ctx context.Context, query string, limit int, opts domain.SearchOptions) domain.SearchResponse {
	var local []domain.SearchResult
	if s.local != nil {
		if res, err := s.local.Search(ctx, query, opts.Collections, opts); err == nil {
			local = res
		}
	}
	merged, _ := merge.Merge(local, s.cfg.MergeStrategy, limit, s.nodeSlug)
	return domain.SearchResponse{
		Query:         query,
		TotalResults:  len(merged),
		Results:       merged,
		NodesSearched: 1,
		NodeBreakdown: map[string]int{s.nodeSlug: len(merged)},
		Fallback:      true,
	}
}

// Aggregate fans out /api/ai-engine/aggregate to every active node that
// passes filterAvailable (ownership of collections is not checked),
// merging the per-collection summaries: counts are summed and the first
// non-empty displayName and description are kept. The merged result is
// not cached.
func (s *Service) Aggregate(ctx context.Context, collections []string, userID string) domain.AggregateResponse {
	merged := make(map[string]domain.AggregateEntry)
	for _, n := range s.filterAvailable(s.registry.GetActiveNodes()) {
		body := map[string]interface{}{"collections": collections, "userId": userID}
		result := s.forwarder.ForwardAction(ctx, &n, body)
		if !result.Success {
			continue
		}
		var remote domain.AggregateResponse
		if err := json.Unmarshal(result.Payload, &remote); err != nil {
			continue
		}
		for name, entry := range remote.AggregateData {
			existing, ok := merged[name]
			if !ok {
				merged[name] = entry
				continue
			}
			existing.Count += entry.Count
			existing.IndexedCount += entry.IndexedCount
			if existing.DisplayName == "" {
				existing.DisplayName = entry.DisplayName
			}
			if existing.Description == "" {
				existing.Description = entry.Description
			}
			merged[name] = existing
		}
	}
	return domain.AggregateResponse{AggregateData: merged}
}

// ActionTransaction dispatches an all-or-nothing multi-node action
// (SPEC_FULL.md §3.1): actionType runs in parallel on every node named
// in nodeSlugs (or every active node, if nodeSlugs is empty), and any
// failure triggers a best-effort compensating rollback to the nodes
// that had already succeeded.
func (s *Service) ActionTransaction(ctx context.Context, actionType string, data map[string]interface{}, nodeSlugs []string) forwarder.TransactionResult {
	candidates := s.resolveCandidates(nodeSlugs)
	nodes := make([]*domain.Node, len(candidates))
	for i := range candidates {
		nodes[i] = &candidates[i]
	}
	return s.forwarder.ForwardActionTransaction(ctx, actionType, data, nodes)
}
