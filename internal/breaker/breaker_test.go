package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("edge-1", Config{FailureThreshold: 3, SuccessThreshold: 2, RetryTimeout: 10 * time.Millisecond})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, domain.BreakerClosed, b.Snapshot().State)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, domain.BreakerOpen, b.Snapshot().State)

	require.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)
}

func TestBreakerHalfOpenRecoversOnSuccess(t *testing.T) {
	b := New("edge-1", Config{FailureThreshold: 1, SuccessThreshold: 2, RetryTimeout: 5 * time.Millisecond})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, domain.BreakerOpen, b.Snapshot().State)

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Allow())
	require.Equal(t, domain.BreakerHalfOpen, b.Snapshot().State)
	require.ErrorIs(t, b.Allow(), domain.ErrCircuitHalfOpenBusy)

	b.RecordSuccess()
	require.Equal(t, domain.BreakerHalfOpen, b.Snapshot().State)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	require.Equal(t, domain.BreakerClosed, b.Snapshot().State)
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := New("edge-1", Config{FailureThreshold: 1, SuccessThreshold: 2, RetryTimeout: 5 * time.Millisecond})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, domain.BreakerOpen, b.Snapshot().State)
}

func TestRegistryIsolatesPerNode(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1})
	a := reg.For("a")
	b := reg.For("b")
	require.NoError(t, a.Allow())
	a.RecordFailure()
	require.Equal(t, domain.BreakerOpen, a.Snapshot().State)
	require.Equal(t, domain.BreakerClosed, b.Snapshot().State)
	require.Same(t, a, reg.For("a"))
}

func TestBreakerNotifiesOnOpenTransition(t *testing.T) {
	var gotSlug string
	var gotPhase domain.BreakerPhase
	b := New("edge-1", Config{FailureThreshold: 1})
	b.SetNotifier(func(slug string, to domain.BreakerPhase) {
		gotSlug, gotPhase = slug, to
	})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, "edge-1", gotSlug)
	require.Equal(t, domain.BreakerOpen, gotPhase)
}

func TestRegistryNotifierAppliesToExistingAndFutureBreakers(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1})
	existing := reg.For("existing")

	var transitions []string
	reg.SetNotifier(func(slug string, to domain.BreakerPhase) {
		transitions = append(transitions, slug+":"+string(to))
	})

	require.NoError(t, existing.Allow())
	existing.RecordFailure()

	future := reg.For("future")
	require.NoError(t, future.Allow())
	future.RecordFailure()

	require.Contains(t, transitions, "existing:open")
	require.Contains(t, transitions, "future:open")
}
