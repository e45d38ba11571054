package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/domain"
)

func testNode(url string) *domain.Node {
	return &domain.Node{Slug: "edge-1", BaseURL: url, Weight: 1}
}

func TestForwardActionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(Config{MaxRetries: 0}, breaker.NewRegistry(breaker.Config{}), nil, nil)
	result := f.ForwardAction(context.Background(), testNode(srv.URL), map[string]string{"actionType": "ping"})
	require.True(t, result.Success)
	require.Equal(t, "edge-1", result.Node)
}

func TestForwardActionRetriesOnFailureThenGivesUp(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{MaxRetries: 2, BackoffBase: time.Millisecond}, breaker.NewRegistry(breaker.Config{}), nil, nil)
	result := f.ForwardAction(context.Background(), testNode(srv.URL), nil)
	require.False(t, result.Success)
	require.Equal(t, 3, calls)
}

func TestDispatchAbandonsRetryWhenBreakerOpen(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1})
	breakers.For("edge-1").Allow()
	breakers.For("edge-1").RecordFailure()

	f := New(Config{}, breakers, nil, nil)
	result := f.ForwardAction(context.Background(), testNode("http://127.0.0.1:1"), nil)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "circuit breaker is open")
}

type stubFinder struct {
	node *domain.Node
	ok   bool
}

func (s stubFinder) FindNodeForCollection(modelClass string) (*domain.Node, bool) {
	return s.node, s.ok
}

func TestForwardChatFailsOverToAlternateOwner(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"response":"hi"}`))
	}))
	defer healthy.Close()

	alt := &domain.Node{Slug: "edge-2", BaseURL: healthy.URL, Weight: 1}
	f := New(Config{MaxRetries: 0}, breaker.NewRegistry(breaker.Config{}), stubFinder{node: alt, ok: true}, nil)

	result := f.ForwardChat(context.Background(), testNode(failing.URL), "invoice", map[string]string{"message": "hi"})
	require.True(t, result.Success)
	require.Equal(t, "edge-2", result.Node)
	require.Equal(t, "edge-1", result.FailoverFrom)
}

func TestForwardActionNeverFailsOver(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	alt := &domain.Node{Slug: "edge-2", Weight: 1}
	f := New(Config{MaxRetries: 0}, breaker.NewRegistry(breaker.Config{}), stubFinder{node: alt, ok: true}, nil)

	result := f.ForwardAction(context.Background(), testNode(failing.URL), nil)
	require.False(t, result.Success)
	require.Empty(t, result.FailoverFrom)
}

func TestForwardActionTransactionSucceedsWhenEveryNodeSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(Config{MaxRetries: 0}, breaker.NewRegistry(breaker.Config{}), nil, nil)
	nodes := []*domain.Node{{Slug: "edge-1", BaseURL: srv.URL, Weight: 1}, {Slug: "edge-2", BaseURL: srv.URL, Weight: 1}}

	tx := f.ForwardActionTransaction(context.Background(), "invoice.create", map[string]interface{}{"id": "1"}, nodes)
	require.True(t, tx.Success)
	require.NotEmpty(t, tx.ActionID)
	require.Empty(t, tx.RolledBack)
	require.Len(t, tx.Results, 2)
}

func TestForwardActionTransactionRollsBackSucceededNodesOnPartialFailure(t *testing.T) {
	var rollbackCalls int
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["actionType"] == "invoice.create.rollback" {
			rollbackCalls++
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	f := New(Config{MaxRetries: 0}, breaker.NewRegistry(breaker.Config{}), nil, nil)
	nodes := []*domain.Node{{Slug: "edge-1", BaseURL: ok.URL, Weight: 1}, {Slug: "edge-2", BaseURL: failing.URL, Weight: 1}}

	tx := f.ForwardActionTransaction(context.Background(), "invoice.create", map[string]interface{}{"id": "1"}, nodes)
	require.False(t, tx.Success)
	require.Equal(t, []string{"edge-1"}, tx.RolledBack)
	require.Equal(t, 1, rollbackCalls)
}

func TestConnectionCounterReturnsToZeroAfterDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := New(Config{}, breaker.NewRegistry(breaker.Config{}), nil, nil)
	node := testNode(srv.URL)
	f.ForwardAction(context.Background(), node, nil)
	require.Equal(t, int64(0), node.ActiveConnections())
}

type stubStatsRecorder struct {
	successes int
	failures  int
	incrs     int
	decrs     int
}

func (s *stubStatsRecorder) RecordAttemptSuccess(slug string, latency time.Duration) { s.successes++ }
func (s *stubStatsRecorder) RecordAttemptFailure(slug string)                        { s.failures++ }
func (s *stubStatsRecorder) IncrActiveConns(slug string)                             { s.incrs++ }
func (s *stubStatsRecorder) DecrActiveConns(slug string)                             { s.decrs++ }

func TestStatsRecorderReceivesAttemptOutcomesBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := New(Config{}, breaker.NewRegistry(breaker.Config{}), nil, nil)
	stats := &stubStatsRecorder{}
	f.SetStatsRecorder(stats)

	f.ForwardAction(context.Background(), testNode(srv.URL), nil)

	require.Equal(t, 1, stats.successes)
	require.Equal(t, 0, stats.failures)
	require.Equal(t, 1, stats.incrs)
	require.Equal(t, 1, stats.decrs)
}
