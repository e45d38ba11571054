// Package merge implements the Result Merger (C7): deduplication and
// ranking of search results gathered from multiple nodes into a single
// ordered, limited list, plus the statistics summarizing the merge.
package merge

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/namematch"
)

// Strategy names a merge ordering algorithm.
type Strategy string

const (
	Score        Strategy = "score" // default
	RoundRobin   Strategy = "round_robin"
	NodePriority Strategy = "node_priority"
	Diversity    Strategy = "diversity"
	Hybrid       Strategy = "hybrid"
)

// Merge deduplicates results across sources, orders them per strategy,
// truncates to limit, and returns the merged list with statistics.
// masterNodeSlug is used by NodePriority to prioritize the master's own
// results; it may be empty.
func Merge(results []domain.SearchResult, strategy Strategy, limit int, masterNodeSlug string) ([]domain.SearchResult, domain.MergeStats) {
	deduped := dedupe(results)

	var ordered []domain.SearchResult
	switch strategy {
	case RoundRobin:
		ordered = roundRobin(deduped)
	case NodePriority:
		ordered = nodePriority(deduped, masterNodeSlug)
	case Diversity:
		ordered = diversity(deduped, limit)
	case Hybrid:
		ordered = hybrid(deduped, limit)
	default:
		ordered = byScoreDesc(deduped)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered, stats(ordered)
}

func dedupeKey(r domain.SearchResult) string {
	var raw string
	if r.ModelClass != "" && r.ID != "" {
		raw = r.ModelClass + ":" + r.ID
	} else {
		raw = namematch.Normalize(r.Content)
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// dedupe drops duplicate (modelClass,id)/content entries, keeping the
// highest-scored variant, preserving first-seen relative order.
func dedupe(results []domain.SearchResult) []domain.SearchResult {
	best := make(map[string]domain.SearchResult)
	order := make([]string, 0, len(results))
	for _, r := range results {
		key := dedupeKey(r)
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = r
			continue
		}
		if r.Score > existing.Score {
			best[key] = r
		}
	}
	out := make([]domain.SearchResult, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func byScoreDesc(results []domain.SearchResult) []domain.SearchResult {
	out := append([]domain.SearchResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// roundRobin takes one result per source node in rotation, each
// source's own results kept in descending score order.
func roundRobin(results []domain.SearchResult) []domain.SearchResult {
	bySource := groupByNode(byScoreDesc(results))
	var nodeOrder []string
	seen := make(map[string]bool)
	for _, r := range results {
		if !seen[r.SourceNode] {
			seen[r.SourceNode] = true
			nodeOrder = append(nodeOrder, r.SourceNode)
		}
	}

	var out []domain.SearchResult
	for {
		added := false
		for _, node := range nodeOrder {
			if len(bySource[node]) > 0 {
				out = append(out, bySource[node][0])
				bySource[node] = bySource[node][1:]
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

func nodePriority(results []domain.SearchResult, masterNodeSlug string) []domain.SearchResult {
	out := append([]domain.SearchResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		iMaster := out[i].SourceNode == masterNodeSlug
		jMaster := out[j].SourceNode == masterNodeSlug
		if iMaster != jMaster {
			return iMaster
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// diversity greedily selects results bounded by per-type and per-node
// caps, filling any remainder by score.
func diversity(results []domain.SearchResult, limit int) []domain.SearchResult {
	maxPerType := maxInt(2, limit/4)
	maxPerNode := maxInt(3, limit/3)

	ordered := byScoreDesc(results)
	perType := make(map[string]int)
	perNode := make(map[string]int)

	var selected []domain.SearchResult
	var leftover []domain.SearchResult
	for _, r := range ordered {
		if perType[r.ModelType] < maxPerType && perNode[r.SourceNode] < maxPerNode {
			selected = append(selected, r)
			perType[r.ModelType]++
			perNode[r.SourceNode]++
		} else {
			leftover = append(leftover, r)
		}
	}
	selected = append(selected, leftover...)
	return selected
}

// hybrid takes the top ⌊0.7·limit⌋ by score, then fills the remainder
// by diversity over the leftover pool.
func hybrid(results []domain.SearchResult, limit int) []domain.SearchResult {
	ordered := byScoreDesc(results)
	topN := int(0.7 * float64(limit))
	if topN > len(ordered) {
		topN = len(ordered)
	}
	top := ordered[:topN]
	rest := ordered[topN:]

	seen := make(map[string]bool, len(top))
	for _, r := range top {
		seen[dedupeKey(r)] = true
	}
	var remaining []domain.SearchResult
	for _, r := range rest {
		if !seen[dedupeKey(r)] {
			remaining = append(remaining, r)
		}
	}

	out := append([]domain.SearchResult(nil), top...)
	out = append(out, diversity(remaining, maxInt(limit-topN, 0))...)
	return out
}

func groupByNode(results []domain.SearchResult) map[string][]domain.SearchResult {
	out := make(map[string][]domain.SearchResult)
	for _, r := range results {
		out[r.SourceNode] = append(out[r.SourceNode], r)
	}
	return out
}

func stats(results []domain.SearchResult) domain.MergeStats {
	s := domain.MergeStats{ByNode: map[string]int{}, ByType: map[string]int{}}
	if len(results) == 0 {
		return s
	}
	s.MinScore = results[0].Score
	s.MaxScore = results[0].Score
	var sum float64
	for _, r := range results {
		s.ByNode[r.SourceNode]++
		if r.ModelType != "" {
			s.ByType[r.ModelType]++
		}
		sum += r.Score
		if r.Score < s.MinScore {
			s.MinScore = r.Score
		}
		if r.Score > s.MaxScore {
			s.MaxScore = r.Score
		}
	}
	s.AvgScore = sum / float64(len(results))
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ParseStrategy validates and normalizes a strategy name from config or
// request options, returning an error for unrecognized values.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", Score:
		return Score, nil
	case RoundRobin, NodePriority, Diversity, Hybrid:
		return Strategy(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("merge: unknown strategy %q", s)
	}
}
