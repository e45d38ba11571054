package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/domain"
)

type stubPinger struct {
	meta domain.AdvertisedMetadata
	err  error
}

func (p stubPinger) Ping(ctx context.Context, n *domain.Node) (domain.AdvertisedMetadata, error) {
	return p.meta, p.err
}

func TestRegisterAllocatesSlugAndRejectsDuplicate(t *testing.T) {
	reg := New(nil, nil, breaker.NewRegistry(breaker.Config{}))
	ctx := context.Background()

	n, err := reg.Register(ctx, RegisterInput{Name: "Invoicing Node", BaseURL: "http://edge-1:8080"})
	require.NoError(t, err)
	require.Equal(t, "invoicing-node", n.Slug)

	_, err = reg.Register(ctx, RegisterInput{Name: "Invoicing Node", BaseURL: "http://edge-2:8080"})
	require.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestGetActiveNodesIncludesPingedNode(t *testing.T) {
	reg := New(nil, stubPinger{meta: domain.AdvertisedMetadata{Status: "active"}}, breaker.NewRegistry(breaker.Config{}))
	ctx := context.Background()

	n, err := reg.Register(ctx, RegisterInput{Name: "Edge One", BaseURL: "http://edge-1:8080"})
	require.NoError(t, err)
	_ = n

	active := reg.GetActiveNodes()
	require.Len(t, active, 1)
}

func TestRecordAttemptStatsSurviveSnapshotCopies(t *testing.T) {
	reg := New(nil, stubPinger{meta: domain.AdvertisedMetadata{Status: "active"}}, breaker.NewRegistry(breaker.Config{}))
	ctx := context.Background()

	n, err := reg.Register(ctx, RegisterInput{Name: "Edge One", BaseURL: "http://edge-1:8080"})
	require.NoError(t, err)

	// A forwarder only ever holds a Snapshot() copy of the node (from
	// GetActiveNodes), so attempt stats must be persisted back by slug
	// through the registry rather than by mutating that copy directly.
	snapshot := reg.GetActiveNodes()[0]
	require.Equal(t, n.Slug, snapshot.Slug)

	reg.IncrActiveConns(n.Slug)
	reg.RecordAttemptSuccess(n.Slug, 0)
	reg.RecordAttemptFailure(n.Slug)
	reg.DecrActiveConns(n.Slug)

	stored, ok := reg.Get(n.Slug)
	require.True(t, ok)
	// One success from Register's initial ping, one from RecordAttemptSuccess.
	require.Equal(t, int64(2), stored.SuccessCount)
	require.Equal(t, int64(1), stored.FailureCount)
	require.Equal(t, int64(0), stored.ActiveConnections())
}

func TestPingFailureIncrementsFailuresAndOpensBreakerEventually(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1})
	reg := New(nil, stubPinger{err: context.DeadlineExceeded}, breakers)
	ctx := context.Background()

	n, err := reg.Register(ctx, RegisterInput{Name: "Edge One", BaseURL: "http://edge-1:8080"})
	require.NoError(t, err)

	ok, err := reg.Ping(ctx, n)
	require.False(t, ok)
	require.Error(t, err)
	// Register's initial ping already failed once.
	require.Equal(t, 2, n.PingFailures)
	require.Equal(t, domain.BreakerOpen, breakers.For(n.Slug).Snapshot().State)
}

func TestFindNodeForCollectionMatchesSingularPlural(t *testing.T) {
	reg := New(nil, stubPinger{meta: domain.AdvertisedMetadata{Status: "active"}}, breaker.NewRegistry(breaker.Config{}))
	ctx := context.Background()

	_, err := reg.Register(ctx, RegisterInput{
		Name: "Tickets Node", BaseURL: "http://edge-1:8080",
		Collections: []domain.Collection{{ModelClass: "ticket"}},
	})
	require.NoError(t, err)

	n, ok := reg.FindNodeForCollection("tickets")
	require.True(t, ok)
	require.Equal(t, "tickets-node", n.Slug)
}

func TestUnregisterRemovesNode(t *testing.T) {
	reg := New(nil, nil, breaker.NewRegistry(breaker.Config{}))
	ctx := context.Background()

	_, err := reg.Register(ctx, RegisterInput{Name: "Edge One", BaseURL: "http://edge-1:8080"})
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ctx, "edge-one"))
	_, ok := reg.Get("edge-one")
	require.False(t, ok)
}

func TestNodeOwnsCollectionBasenameMatch(t *testing.T) {
	n := domain.Node{Collections: []domain.Collection{{ModelClass: "Email"}}}
	require.True(t, NodeOwnsCollection(n, `App\Models\Email`))
}
