// Package forwarder provides the stateless transport for dispatching
// chat, search, and action requests to a chosen node: one attempt, then
// bounded retries with exponential backoff, breaker-gated, with
// collection-aware failover for chat and search (never for actions).
package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/httpclient"
	"github.com/mabou7agar/nodefabric/internal/infra/metrics"
)

// Config controls retry/backoff behavior.
type Config struct {
	MaxRetries   int           // default 1
	BackoffBase  time.Duration // default 200ms
	RequestTTL   time.Duration // per-attempt timeout, default 30s
	HealthTTL    time.Duration // health-check timeout, default 5s
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = 30 * time.Second
	}
	if c.HealthTTL <= 0 {
		c.HealthTTL = 5 * time.Second
	}
	return c
}

// AlternateFinder locates alternate active nodes owning a collection,
// implemented by internal/registry. Kept as a narrow interface so
// forwarder does not import the full registry surface.
type AlternateFinder interface {
	FindNodeForCollection(modelClass string) (*domain.Node, bool)
}

// TokenIssuer mints a signed X-Node-Token for outgoing calls,
// implemented by internal/auth.Service. Kept as a narrow interface for
// the same reason as AlternateFinder: forwarder never imports auth.
type TokenIssuer interface {
	GenerateToken(node *domain.Node, ttl time.Duration) (string, error)
}

// StatsRecorder persists per-attempt latency/success/failure/active-
// connection counters against the registry's real node, implemented by
// internal/registry.Registry. Forwarder dispatches against node
// snapshots handed back by GetActiveNodes, so without this the
// balancer would always see stale ping-loop-only stats instead of the
// traffic it is actually routing.
type StatsRecorder interface {
	RecordAttemptSuccess(slug string, latency time.Duration)
	RecordAttemptFailure(slug string)
	IncrActiveConns(slug string)
	DecrActiveConns(slug string)
}

// Result is the uniform shape every forward* call returns.
type Result struct {
	Success      bool            `json:"success"`
	Node         string          `json:"node"`
	DurationMs   int64           `json:"durationMs"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
	FailoverFrom string          `json:"failoverFrom,omitempty"`
}

// Forwarder dispatches requests to nodes over HTTP, gated by a per-node
// circuit breaker.
type Forwarder struct {
	cfg      Config
	breakers *breaker.Registry
	clients  *clientCache
	alt      AlternateFinder
	stats    StatsRecorder
}

// New constructs a Forwarder. alt and tokens may both be nil: nil alt
// disables collection failover, nil tokens falls back to sending the
// node's static APIKey instead of a minted token.
func New(cfg Config, breakers *breaker.Registry, alt AlternateFinder, tokens TokenIssuer) *Forwarder {
	return &Forwarder{cfg: cfg.withDefaults(), breakers: breakers, clients: newClientCache(tokens), alt: alt}
}

// SetAlternateFinder wires the collection-failover source after
// construction. This exists so a registry that itself needs the
// Forwarder as its Pinger can still be handed back in as the
// Forwarder's AlternateFinder, without a construction-order cycle.
func (f *Forwarder) SetAlternateFinder(alt AlternateFinder) {
	f.alt = alt
}

// SetStatsRecorder wires where per-attempt node stats are persisted,
// for the same construction-order reason as SetAlternateFinder. A nil
// recorder (the default) leaves attempt() mutating only the snapshot
// node it was handed, which callers discard.
func (f *Forwarder) SetStatsRecorder(stats StatsRecorder) {
	f.stats = stats
}

func (f *Forwarder) clientFor(n *domain.Node) *httpclient.Factory {
	return f.clients.get(n, f.cfg.RequestTTL)
}

// Ping implements registry.Pinger: GET /api/ai-engine/health.
func (f *Forwarder) Ping(ctx context.Context, n *domain.Node) (domain.AdvertisedMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.HealthTTL)
	defer cancel()

	client := f.clients.get(n, f.cfg.HealthTTL)
	req, err := client.NewRequest(ctx, http.MethodGet, "/api/ai-engine/health", nil)
	if err != nil {
		return domain.AdvertisedMetadata{}, err
	}

	var meta domain.AdvertisedMetadata
	resp, err := client.Do(req, &meta)
	if err != nil {
		return domain.AdvertisedMetadata{}, domain.NewNodeError(n.Slug, domain.KindTransportFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.AdvertisedMetadata{}, domain.NewNodeError(n.Slug, domain.KindRemoteNonSuccess, fmt.Errorf("status %d", resp.StatusCode))
	}
	return meta, nil
}

// ForwardChat dispatches a chat message to node, failing over to an
// alternate owner of collection (if non-empty and alt is configured).
func (f *Forwarder) ForwardChat(ctx context.Context, node *domain.Node, collection string, body interface{}) Result {
	return f.dispatchWithFailover(ctx, node, collection, "/api/ai-engine/chat", body)
}

// ForwardSearch dispatches a search request to node, with the same
// failover policy as ForwardChat.
func (f *Forwarder) ForwardSearch(ctx context.Context, node *domain.Node, collection string, body interface{}) Result {
	return f.dispatchWithFailover(ctx, node, collection, "/api/ai-engine/search", body)
}

// ForwardAction dispatches an action to node. Actions never failover —
// they may be side-effectful and node-specific.
func (f *Forwarder) ForwardAction(ctx context.Context, node *domain.Node, body interface{}) Result {
	return f.dispatch(ctx, node, "/api/ai-engine/actions", body)
}

func (f *Forwarder) dispatchWithFailover(ctx context.Context, node *domain.Node, collection, path string, body interface{}) Result {
	result := f.dispatch(ctx, node, path, body)
	if result.Success || collection == "" || f.alt == nil {
		return result
	}
	alt, ok := f.alt.FindNodeForCollection(collection)
	if !ok || alt.Slug == node.Slug {
		return result
	}
	failover := f.dispatch(ctx, alt, path, body)
	failover.FailoverFrom = node.Slug
	return failover
}

// dispatch performs one attempt, then up to cfg.MaxRetries more with
// exponential backoff, checking the breaker before every attempt.
func (f *Forwarder) dispatch(ctx context.Context, node *domain.Node, path string, body interface{}) Result {
	var last Result
	for attempt := 1; attempt <= f.cfg.MaxRetries+1; attempt++ {
		if f.breakers != nil {
			if err := f.breakers.For(node.Slug).Allow(); err != nil {
				return Result{Success: false, Node: node.Slug, Error: err.Error()}
			}
		}

		last = f.attempt(ctx, node, path, body)
		if last.Success {
			return last
		}
		if attempt <= f.cfg.MaxRetries {
			backoff := time.Duration(float64(f.cfg.BackoffBase) * math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return last
			}
		}
	}
	return last
}

func (f *Forwarder) attempt(ctx context.Context, node *domain.Node, path string, body interface{}) Result {
	start := time.Now()
	node.IncrActiveConns()
	if f.stats != nil {
		f.stats.IncrActiveConns(node.Slug)
	}
	metrics.ActiveConnections.WithLabelValues(node.Slug).Set(float64(node.ActiveConnections()))
	defer func() {
		node.DecrActiveConns()
		if f.stats != nil {
			f.stats.DecrActiveConns(node.Slug)
		}
		metrics.ActiveConnections.WithLabelValues(node.Slug).Set(float64(node.ActiveConnections()))
	}()

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTTL)
	defer cancel()

	client := f.clientFor(node)
	req, err := client.NewRequest(reqCtx, http.MethodPost, path, body)
	if err != nil {
		f.recordFailure(node)
		return Result{Success: false, Node: node.Slug, DurationMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}

	var raw json.RawMessage
	resp, err := client.Do(req, &raw)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		f.recordFailure(node)
		return Result{Success: false, Node: node.Slug, DurationMs: duration, Error: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.recordFailure(node)
		return Result{Success: false, Node: node.Slug, DurationMs: duration, Error: fmt.Sprintf("remote status %d", resp.StatusCode)}
	}

	f.recordSuccess(node, time.Since(start))
	return Result{Success: true, Node: node.Slug, DurationMs: duration, Payload: raw}
}

func (f *Forwarder) recordSuccess(node *domain.Node, latency time.Duration) {
	node.RecordSuccess(latency)
	if f.stats != nil {
		f.stats.RecordAttemptSuccess(node.Slug, latency)
	}
	if f.breakers != nil {
		f.breakers.For(node.Slug).RecordSuccess()
	}
}

func (f *Forwarder) recordFailure(node *domain.Node) {
	node.RecordFailure()
	if f.stats != nil {
		f.stats.RecordAttemptFailure(node.Slug)
	}
	if f.breakers != nil {
		f.breakers.For(node.Slug).RecordFailure()
	}
}

// TransactionResult is the outcome of an atomic multi-node action
// dispatch: the per-node results, and which nodes (if any) received a
// compensating rollback.
type TransactionResult struct {
	ActionID      string            `json:"actionId"`
	Success       bool              `json:"success"`
	Results       map[string]Result `json:"results"`
	RolledBack    []string          `json:"rolledBack,omitempty"`
}

// ForwardActionTransaction dispatches actionType to every node in
// parallel as an all-or-nothing multi-node transaction. If any node
// fails, it issues a best-effort compensating rollback —
// "<actionType>.rollback" with {originalActionId: actionID} — to every
// node that had already succeeded. Rollback failures are logged, never
// surfaced: the fabric's Non-goals exclude strong cross-node
// consistency.
func (f *Forwarder) ForwardActionTransaction(ctx context.Context, actionType string, data map[string]interface{}, nodes []*domain.Node) TransactionResult {
	actionID := uuid.NewString()

	type outcome struct {
		node   *domain.Node
		result Result
	}

	ch := make(chan outcome, len(nodes))
	var wg sync.WaitGroup
	for _, n := range nodes {
		node := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := map[string]interface{}{"actionType": actionType, "data": withActionID(data, actionID)}
			ch <- outcome{node: node, result: f.ForwardAction(ctx, node, body)}
		}()
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	results := make(map[string]Result, len(nodes))
	var succeeded []*domain.Node
	allOK := len(nodes) > 0
	for o := range ch {
		results[o.node.Slug] = o.result
		if o.result.Success {
			succeeded = append(succeeded, o.node)
		} else {
			allOK = false
		}
	}

	tx := TransactionResult{ActionID: actionID, Success: allOK, Results: results}
	if allOK || len(succeeded) == 0 {
		return tx
	}

	rollbackType := actionType + ".rollback"
	rollbackData := map[string]interface{}{"originalActionId": actionID}
	var rolledBack []string
	for _, n := range succeeded {
		rollbackBody := map[string]interface{}{"actionType": rollbackType, "data": rollbackData}
		if res := f.ForwardAction(ctx, n, rollbackBody); res.Success {
			rolledBack = append(rolledBack, n.Slug)
		} else {
			log.Warn().Str("node", n.Slug).Str("actionId", actionID).Str("error", res.Error).
				Msg("forwarder: compensating rollback failed")
		}
	}
	tx.RolledBack = rolledBack
	return tx
}

func withActionID(data map[string]interface{}, actionID string) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["actionId"] = actionID
	return out
}
