// Package balancer selects a node among healthy candidates using one of
// several strategies: round robin, least connections, weighted, random,
// or the default response-time composite score.
package balancer

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	RoundRobin     Strategy = "round_robin"
	LeastConns     Strategy = "least_connections"
	Weighted       Strategy = "weighted"
	ResponseTime   Strategy = "response_time" // default
	Random         Strategy = "random"
)

// Balancer picks among a set of healthy node snapshots.
type Balancer struct {
	strategy Strategy
	counter  uint64
	mu       sync.Mutex
	rng      *rand.Rand
}

// New constructs a Balancer for the given strategy, defaulting to
// ResponseTime when strategy is empty.
func New(strategy Strategy) *Balancer {
	if strategy == "" {
		strategy = ResponseTime
	}
	return &Balancer{strategy: strategy, rng: rand.New(rand.NewSource(1))}
}

// Pick selects one node from candidates, or domain.ErrNoAvailableNodes
// if candidates is empty.
func (b *Balancer) Pick(candidates []domain.Node) (domain.Node, error) {
	if len(candidates) == 0 {
		return domain.Node{}, domain.ErrNoAvailableNodes
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	switch b.strategy {
	case RoundRobin:
		return b.roundRobin(candidates), nil
	case LeastConns:
		return leastConnections(candidates), nil
	case Weighted:
		return b.weighted(candidates), nil
	case Random:
		return b.random(candidates), nil
	default:
		return responseTime(candidates), nil
	}
}

func (b *Balancer) roundRobin(candidates []domain.Node) domain.Node {
	n := atomic.AddUint64(&b.counter, 1)
	return candidates[(n-1)%uint64(len(candidates))]
}

func leastConnections(candidates []domain.Node) domain.Node {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ActiveConns < best.ActiveConns {
			best = c
		}
	}
	return best
}

func (b *Balancer) weighted(candidates []domain.Node) domain.Node {
	total := 0
	for _, c := range candidates {
		w := c.Weight
		if w < 1 {
			w = 1
		}
		total += w
	}
	b.mu.Lock()
	pick := b.rng.Intn(total)
	b.mu.Unlock()

	for _, c := range candidates {
		w := c.Weight
		if w < 1 {
			w = 1
		}
		if pick < w {
			return c
		}
		pick -= w
	}
	return candidates[len(candidates)-1]
}

// SelectNodes returns up to count nodes drawn from candidates using the
// configured strategy, each picked without repeats from whatever
// remains after the previous pick. The returned list's size never
// exceeds count (or len(candidates), whichever is smaller).
func (b *Balancer) SelectNodes(candidates []domain.Node, count int) []domain.Node {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}
	if count > len(candidates) {
		count = len(candidates)
	}

	selected := make([]domain.Node, 0, count)
	remaining := append([]domain.Node(nil), candidates...)
	for len(selected) < count && len(remaining) > 0 {
		pick, err := b.Pick(remaining)
		if err != nil {
			break
		}
		selected = append(selected, pick)
		remaining = removeNode(remaining, pick.Slug)
	}
	return selected
}

func removeNode(nodes []domain.Node, slug string) []domain.Node {
	out := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Slug != slug {
			out = append(out, n)
		}
	}
	return out
}

// DistributeLoad allocates totalRequests among nodes in proportion to
// each node's weight (unweighted nodes count as weight 1), returning a
// per-slug request count that always sums to totalRequests — any
// remainder left by integer division is handed out round-robin.
func (b *Balancer) DistributeLoad(nodes []domain.Node, totalRequests int) map[string]int {
	out := make(map[string]int, len(nodes))
	if len(nodes) == 0 || totalRequests <= 0 {
		return out
	}

	weights := make([]int, len(nodes))
	total := 0
	for i, n := range nodes {
		w := n.Weight
		if w < 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	assigned := 0
	for i, n := range nodes {
		share := totalRequests * weights[i] / total
		out[n.Slug] = share
		assigned += share
	}
	for i := 0; assigned < totalRequests; i = (i + 1) % len(nodes) {
		out[nodes[i].Slug]++
		assigned++
	}
	return out
}

func (b *Balancer) random(candidates []domain.Node) domain.Node {
	b.mu.Lock()
	i := b.rng.Intn(len(candidates))
	b.mu.Unlock()
	return candidates[i]
}

// responseTime scores each candidate by a composite of average latency,
// success rate, and current load, picking the lowest score. Lower is
// better: loadScore rewards fast, reliable, lightly-loaded nodes.
func responseTime(candidates []domain.Node) domain.Node {
	best := candidates[0]
	bestScore := loadScore(best)
	for _, c := range candidates[1:] {
		if s := loadScore(c); s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func loadScore(n domain.Node) float64 {
	latency := n.AvgResponseTime
	if latency <= 0 {
		latency = 1 // unseen nodes aren't penalized for having no history
	}
	successRate := 1.0
	total := n.SuccessCount + n.FailureCount
	if total > 0 {
		successRate = float64(n.SuccessCount) / float64(total)
	}
	failurePenalty := (1 - successRate) * 1000
	connPenalty := float64(n.ActiveConns) * 10
	return latency + failurePenalty + connPenalty
}
