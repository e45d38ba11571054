package vectorsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

func TestSearchReturnsScoredMatchesSortedDescending(t *testing.T) {
	e := New()
	e.Index([]Document{
		{ID: "a", Content: "invoice summary for march", Collection: "invoicing"},
		{ID: "b", Content: "completely unrelated gardening notes", Collection: "invoicing"},
		{ID: "c", Content: "invoice invoice invoice march totals", Collection: "invoicing"},
	})

	results, err := e.Search(context.Background(), "invoice totals", nil, domain.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "c", results[0].ID)
}

func TestSearchFiltersByCollection(t *testing.T) {
	e := New()
	e.Index([]Document{
		{ID: "a", Content: "invoice totals", Collection: "invoicing"},
		{ID: "b", Content: "invoice totals", Collection: "payroll"},
	})

	results, err := e.Search(context.Background(), "invoice", []string{"payroll"}, domain.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestSearchAppliesThreshold(t *testing.T) {
	e := New()
	e.Index([]Document{{ID: "a", Content: "gardening notes", Collection: "misc"}})

	results, err := e.Search(context.Background(), "invoice", nil, domain.SearchOptions{Threshold: 0.5})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchEmptyQueryReturnsNoResults(t *testing.T) {
	e := New()
	e.Index([]Document{{ID: "a", Content: "invoice totals", Collection: "invoicing"}})

	results, err := e.Search(context.Background(), "", nil, domain.SearchOptions{})
	require.NoError(t, err)
	require.Empty(t, results)
}
