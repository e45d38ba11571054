package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

func TestFingerprintStableAcrossCollectionOrder(t *testing.T) {
	a := Fingerprint("hello", []string{"docs", "tickets"}, nil, []string{"n1", "n2"})
	b := Fingerprint("hello", []string{"tickets", "docs"}, nil, []string{"n2", "n1"})
	require.Equal(t, a, b)
}

func TestFingerprintDiffersByNodeSet(t *testing.T) {
	a := Fingerprint("hello", []string{"docs"}, nil, []string{"n1"})
	b := Fingerprint("hello", []string{"docs"}, nil, []string{"n1", "n2"})
	require.NotEqual(t, a, b)
}

func TestPutThenGetHits(t *testing.T) {
	ctx := context.Background()
	c := New(nil, time.Minute)
	fp := Fingerprint("q", nil, nil, nil)
	resp := domain.SearchResponse{Query: "q", TotalResults: 1, Results: []domain.SearchResult{{ID: "1"}}}

	require.NoError(t, c.Put(ctx, fp, "q", []string{"n1"}, resp, []string{"collection:docs"}))

	got, ok := c.Get(ctx, fp)
	require.True(t, ok)
	require.Equal(t, 1, got.TotalResults)
}

func TestGetMissOnUnknownFingerprint(t *testing.T) {
	c := New(nil, time.Minute)
	_, ok := c.Get(context.Background(), "nope")
	require.False(t, ok)
}

func TestInvalidateNodeDropsMatchingEntries(t *testing.T) {
	ctx := context.Background()
	c := New(nil, time.Minute)
	fp := Fingerprint("q", nil, nil, []string{"n1"})
	require.NoError(t, c.Put(ctx, fp, "q", []string{"n1"}, domain.SearchResponse{}, nil))

	n := c.InvalidateNode(ctx, "n1")
	require.Equal(t, 1, n)
	_, ok := c.Get(ctx, fp)
	require.False(t, ok)
}

func TestInvalidateTagDropsTaggedEntries(t *testing.T) {
	ctx := context.Background()
	c := New(nil, time.Minute)
	fp := Fingerprint("q", nil, nil, nil)
	require.NoError(t, c.Put(ctx, fp, "q", nil, domain.SearchResponse{}, []string{"collection:docs"}))

	n := c.InvalidateTag(ctx, "collection:docs")
	require.Equal(t, 1, n)
}

func TestPurgeRemovesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	c := New(nil, time.Millisecond)
	fp := Fingerprint("q", nil, nil, nil)
	require.NoError(t, c.Put(ctx, fp, "q", nil, domain.SearchResponse{}, nil))

	time.Sleep(5 * time.Millisecond)
	n := c.Purge(time.Now())
	require.Equal(t, 1, n)
}

func TestOnceCoalescesConcurrentComputes(t *testing.T) {
	c := New(nil, time.Minute)
	var calls int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err, _ := c.Once("shared-key", func() (domain.SearchResponse, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return domain.SearchResponse{TotalResults: 1}, nil
			})
			require.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
}
