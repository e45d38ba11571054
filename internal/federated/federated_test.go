package federated

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/balancer"
	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/cache"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/forwarder"
)

type stubRegistry struct{ active []domain.Node }

func (s stubRegistry) GetActiveNodes() []domain.Node { return s.active }

type stubLocal struct {
	results []domain.SearchResult
	err     error
}

func (s stubLocal) Search(ctx context.Context, query string, collections []string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	return s.results, s.err
}

func newPeer(t *testing.T, results []domain.SearchResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := domain.SearchResponse{Query: "q", Results: results, TotalResults: len(results)}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(cfg Config, reg stubRegistry, local domain.VectorSearchEngine) *Service {
	return New(
		cfg, "local-node", reg,
		breaker.NewRegistry(breaker.Config{}), balancer.New(balancer.RoundRobin),
		forwarder.New(forwarder.Config{}, breaker.NewRegistry(breaker.Config{}), nil, nil),
		cache.New(nil, 0), local,
	)
}

func TestSearchMergesLocalAndRemoteResults(t *testing.T) {
	peer := newPeer(t, []domain.SearchResult{{ID: "r1", Content: "remote hit", Score: 0.5, ModelClass: "doc"}})
	node := domain.Node{Slug: "peer-1", BaseURL: peer.URL, Weight: 1, Status: domain.StatusActive}

	svc := newService(Config{}, stubRegistry{active: []domain.Node{node}}, stubLocal{
		results: []domain.SearchResult{{ID: "l1", Content: "local hit", Score: 0.9, ModelClass: "doc"}},
	})

	resp := svc.Search(context.Background(), "hit", nil, 10, domain.SearchOptions{})
	require.False(t, resp.Fallback)
	require.Equal(t, 2, resp.TotalResults)
	require.Equal(t, 2, resp.NodesSearched)
}

func TestSearchServesFromCacheOnSecondCall(t *testing.T) {
	svc := newService(Config{}, stubRegistry{}, stubLocal{
		results: []domain.SearchResult{{ID: "l1", Content: "hit", Score: 1}},
	})

	first := svc.Search(context.Background(), "hit", nil, 10, domain.SearchOptions{})
	second := svc.Search(context.Background(), "hit", nil, 10, domain.SearchOptions{})
	require.Equal(t, first.TotalResults, second.TotalResults)
}

func TestSearchFallsBackToLocalOnlyWhenLocalSearchErrors(t *testing.T) {
	svc := newService(Config{}, stubRegistry{}, stubLocal{err: errors.New("backend unreachable")})

	resp := svc.Search(context.Background(), "hit", nil, 10, domain.SearchOptions{})
	require.True(t, resp.Fallback)
	require.Equal(t, 0, resp.TotalResults)
}

func TestAggregateMergesCountsAcrossNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := domain.AggregateResponse{AggregateData: map[string]domain.AggregateEntry{
			"invoices": {Count: 3, IndexedCount: 3, DisplayName: "Invoices"},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()
	node := domain.Node{Slug: "peer-1", BaseURL: srv.URL, Weight: 1, Status: domain.StatusActive}

	svc := newService(Config{}, stubRegistry{active: []domain.Node{node}}, nil)

	resp := svc.Aggregate(context.Background(), []string{"invoices"}, "")
	require.Equal(t, 3, resp.AggregateData["invoices"].Count)
}

func TestFilterAvailableCapsAtMaxNodes(t *testing.T) {
	nodes := []domain.Node{
		{Slug: "n1", Status: domain.StatusActive},
		{Slug: "n2", Status: domain.StatusActive},
		{Slug: "n3", Status: domain.StatusActive},
	}
	svc := newService(Config{MaxNodes: 2}, stubRegistry{active: nodes}, nil)
	selected := svc.filterAvailable(nodes)
	require.Len(t, selected, 2)
}
