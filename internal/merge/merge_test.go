package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

func sample() []domain.SearchResult {
	return []domain.SearchResult{
		{ID: "1", ModelClass: "Invoice", Score: 0.9, SourceNode: "A", ModelType: "invoice"},
		{ID: "2", ModelClass: "Invoice", Score: 0.5, SourceNode: "A", ModelType: "invoice"},
		{ID: "3", ModelClass: "Invoice", Score: 0.8, SourceNode: "B", ModelType: "invoice"},
		{ID: "4", ModelClass: "Invoice", Score: 0.6, SourceNode: "B", ModelType: "invoice"},
		{ID: "5", ModelClass: "Invoice", Score: 0.7, SourceNode: "C", ModelType: "invoice"},
		{ID: "6", ModelClass: "Invoice", Score: 0.55, SourceNode: "C", ModelType: "invoice"},
	}
}

func TestMergeScoreOrdersDescending(t *testing.T) {
	out, stats := Merge(sample(), Score, 4, "")
	var scores []float64
	for _, r := range out {
		scores = append(scores, r.Score)
	}
	require.Equal(t, []float64{0.9, 0.8, 0.7, 0.6}, scores)
	require.Equal(t, 1, stats.ByNode["A"])
	require.Equal(t, 2, stats.ByNode["B"])
	require.Equal(t, 1, stats.ByNode["C"])
}

func TestDeduplicationKeepsHigherScore(t *testing.T) {
	results := []domain.SearchResult{
		{ID: "42", ModelClass: "Invoice", Score: 0.4, SourceNode: "A"},
		{ID: "42", ModelClass: "Invoice", Score: 0.9, SourceNode: "B"},
	}
	out, _ := Merge(results, Score, 10, "")
	require.Len(t, out, 1)
	require.Equal(t, 0.9, out[0].Score)
	require.Equal(t, "B", out[0].SourceNode)
}

func TestRoundRobinAlternatesSources(t *testing.T) {
	out, _ := Merge(sample(), RoundRobin, 10, "")
	var sources []string
	for _, r := range out {
		sources = append(sources, r.SourceNode)
	}
	require.Equal(t, []string{"A", "B", "C", "A", "B", "C"}, sources)
}

func TestNodePriorityPutsMasterFirst(t *testing.T) {
	out, _ := Merge(sample(), NodePriority, 10, "B")
	require.Equal(t, "B", out[0].SourceNode)
	require.Equal(t, "B", out[1].SourceNode)
}

func TestDiversityReturnsAtMostInputCount(t *testing.T) {
	results := make([]domain.SearchResult, 0, 10)
	for i := 0; i < 10; i++ {
		results = append(results, domain.SearchResult{
			ID: string(rune('a' + i)), Score: float64(10 - i), SourceNode: "A", ModelType: "doc",
		})
	}
	out, _ := Merge(results, Diversity, 12, "")
	require.LessOrEqual(t, len(out), 10)
}

func TestHybridFillsLimit(t *testing.T) {
	out, _ := Merge(sample(), Hybrid, 4, "")
	require.Len(t, out, 4)
}

func TestParseStrategyRejectsUnknown(t *testing.T) {
	_, err := ParseStrategy("bogus")
	require.Error(t, err)
}

func TestParseStrategyDefaultsToScore(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, Score, s)
}
