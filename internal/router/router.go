// Package router implements per-request routing (C11): by-collection
// ownership, then AI intent, then a keyword-score fallback, always
// verifying the chosen node is actually available before committing to
// it.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/namematch"
)

// DefaultMinKeywordScore is the minimum keyword-fallback score required
// to route to a remote node rather than local.
const DefaultMinKeywordScore = 10

// DefaultLLMTimeout bounds how long the Router waits for an AI-intent
// response before falling back to the keyword scorer.
const DefaultLLMTimeout = 5 * time.Second

const (
	weightCollections = 15
	weightKeywords    = 10
	weightDataTypes   = 8
	weightDomains     = 5
)

// CollectionFinder resolves the active node that owns a collection,
// implemented by internal/registry.
type CollectionFinder interface {
	FindNodeForCollection(modelClass string) (*domain.Node, bool)
	GetActiveNodes() []domain.Node
}

// Availability reports whether a node is currently usable for routing:
// breaker closed (or half-open), not rate-limited.
type Availability interface {
	Allow(nodeSlug string) error
}

// breakerAvailability adapts *breaker.Registry to Availability.
type breakerAvailability struct{ reg *breaker.Registry }

func (b breakerAvailability) Allow(nodeSlug string) error {
	if b.reg == nil {
		return nil
	}
	return b.reg.For(nodeSlug).Allow()
}

// NewBreakerAvailability wraps a breaker.Registry as an Availability.
func NewBreakerAvailability(reg *breaker.Registry) Availability {
	return breakerAvailability{reg: reg}
}

// Config controls fallback thresholds.
type Config struct {
	MinKeywordScore int
	LLMTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinKeywordScore <= 0 {
		c.MinKeywordScore = DefaultMinKeywordScore
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = DefaultLLMTimeout
	}
	return c
}

// Options carries per-request routing overrides.
type Options struct {
	DisableAI bool
}

// Router resolves a query and optional collection list to a routing
// decision, preferring explicit collection ownership, then AI intent,
// then a keyword score over node digests.
type Router struct {
	cfg        Config
	registry   CollectionFinder
	avail      Availability
	llm        domain.LLMClient // may be nil, disabling AI-intent routing
	digestText func() map[string]string
}

// New constructs a Router. llm and digestText may be nil/unset, in
// which case routing skips straight to the keyword fallback.
func New(cfg Config, registry CollectionFinder, avail Availability, llm domain.LLMClient, digestText func() map[string]string) *Router {
	return &Router{cfg: cfg.withDefaults(), registry: registry, avail: avail, llm: llm, digestText: digestText}
}

// Route resolves query (and optional collections) to a RoutingDecision.
func (r *Router) Route(ctx context.Context, query string, collections []string) domain.RoutingDecision {
	if len(collections) > 0 {
		if decision, ok := r.routeByCollection(collections); ok {
			return decision
		}
	}

	if r.llm != nil {
		if decision, ok := r.routeByIntent(ctx, query); ok {
			return decision
		}
	}

	return r.routeByKeyword(query, "")
}

// ExplainRouting returns the routing decision alongside every
// candidate node's keyword score, for observability and tests.
func (r *Router) ExplainRouting(ctx context.Context, query string, collections []string) domain.RoutingExplanation {
	decision := r.Route(ctx, query, collections)
	scores := r.scoreAll(query)
	return domain.RoutingExplanation{Decision: decision, Scores: scores}
}

func (r *Router) routeByCollection(collections []string) (domain.RoutingDecision, bool) {
	for _, c := range collections {
		node, ok := r.registry.FindNodeForCollection(c)
		if !ok {
			continue
		}
		if err := r.avail.Allow(node.Slug); err != nil {
			continue
		}
		return domain.RoutingDecision{Node: node, IsLocal: false, Reason: fmt.Sprintf("collection %q owned by %s", c, node.Slug), Collections: collections}, true
	}
	return domain.RoutingDecision{}, false
}

func (r *Router) routeByIntent(ctx context.Context, query string) (domain.RoutingDecision, bool) {
	if r.digestText == nil {
		return domain.RoutingDecision{}, false
	}
	digests := r.digestText()
	if len(digests) == 0 {
		return domain.RoutingDecision{}, false
	}

	llmCtx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()

	prompt := buildIntentPrompt(digests, query)
	reply, err := r.llm.Complete(llmCtx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("router: llm intent call failed, falling back to keyword score")
		return domain.RoutingDecision{}, false
	}

	slug, reason, ok := parseIntentReply(reply)
	if !ok {
		log.Warn().Str("reply", reply).Msg("router: unparseable llm intent reply, falling back")
		return domain.RoutingDecision{}, false
	}
	if strings.EqualFold(slug, "LOCAL") {
		return domain.RoutingDecision{}, false
	}

	for _, n := range r.registry.GetActiveNodes() {
		if n.Slug != slug {
			continue
		}
		node := n
		if err := r.avail.Allow(node.Slug); err != nil {
			return domain.RoutingDecision{}, false
		}
		return domain.RoutingDecision{Node: &node, IsLocal: false, Reason: reason}, true
	}
	return domain.RoutingDecision{}, false
}

func (r *Router) routeByKeyword(query, _ string) domain.RoutingDecision {
	best := domain.RoutingDecision{IsLocal: true, Reason: "no node scored above the keyword threshold"}
	bestScore := -1

	for _, n := range r.registry.GetActiveNodes() {
		score := scoreNode(n, query)
		if score <= bestScore {
			continue
		}
		if err := r.avail.Allow(n.Slug); err != nil {
			continue
		}
		node := n
		bestScore = score
		best = domain.RoutingDecision{Node: &node, IsLocal: false, Reason: fmt.Sprintf("keyword score %d", score)}
	}

	if bestScore < r.cfg.MinKeywordScore {
		return domain.RoutingDecision{IsLocal: true, Reason: "best keyword score below minimum"}
	}
	return best
}

func (r *Router) scoreAll(query string) []domain.NodeScore {
	var scores []domain.NodeScore
	for _, n := range r.registry.GetActiveNodes() {
		scores = append(scores, domain.NodeScore{NodeSlug: n.Slug, Score: float64(scoreNode(n, query))})
	}
	return scores
}

// scoreNode implements the C1-weighted keyword fallback: collections
// ×15, keywords ×10, dataTypes ×8, domains ×5. Each advertised value is
// scored by its best-matching query term, and the weighted scores of all
// values are summed.
func scoreNode(n domain.Node, query string) int {
	total := 0
	for _, c := range n.Collections {
		total += weightedMatch(c.ModelClass, query, weightCollections)
	}
	for _, k := range n.Keywords {
		total += weightedMatch(k, query, weightKeywords)
	}
	for _, d := range n.DataTypes {
		total += weightedMatch(d, query, weightDataTypes)
	}
	for _, d := range n.Domains {
		total += weightedMatch(d, query, weightDomains)
	}
	return total
}

func weightedMatch(candidate, query string, weight int) int {
	best := 0
	for _, term := range strings.Fields(query) {
		if s := namematch.Score(candidate, term, nil); s > best {
			best = s
		}
	}
	if best == 0 {
		return 0
	}
	return (best * weight) / 100
}

func buildIntentPrompt(digests map[string]string, query string) string {
	var b strings.Builder
	b.WriteString("Given these node capabilities:\n")
	for _, text := range digests {
		b.WriteString(text)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nRoute this query to the single best node, or LOCAL if none fits.\nQuery: %s\n", query)
	b.WriteString("Respond with exactly two lines:\nNODE: <slug|LOCAL>\nREASON: <short reason>\n")
	return b.String()
}

// parseIntentReply strictly parses the two-line `NODE: ...` / `REASON: ...`
// format; any deviation is treated as an LLM failure per spec §4.11.
func parseIntentReply(reply string) (slug, reason string, ok bool) {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	if len(lines) != 2 {
		return "", "", false
	}
	nodeLine, reasonLine := strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1])
	if !strings.HasPrefix(strings.ToUpper(nodeLine), "NODE:") || !strings.HasPrefix(strings.ToUpper(reasonLine), "REASON:") {
		return "", "", false
	}
	slug = strings.TrimSpace(nodeLine[len("NODE:"):])
	reason = strings.TrimSpace(reasonLine[len("REASON:"):])
	if slug == "" {
		return "", "", false
	}
	return slug, reason, true
}
