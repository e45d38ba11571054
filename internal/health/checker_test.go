package health

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/infra/sqlite"
	"github.com/mabou7agar/nodefabric/internal/registry"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewCheckerHasThreeChecks(t *testing.T) {
	c := NewChecker(newTestDB(t), registry.New(nil, nil, breaker.NewRegistry(breaker.Config{})), breaker.NewRegistry(breaker.Config{}))
	require.Len(t, c.checks, 3)
}

func TestRunAllHealthyWhenDependenciesAreFine(t *testing.T) {
	c := NewChecker(newTestDB(t), registry.New(nil, nil, breaker.NewRegistry(breaker.Config{})), breaker.NewRegistry(breaker.Config{}))
	c.runAll(context.Background())

	require.True(t, c.IsHealthy())
	require.Len(t, c.Statuses(), 3)
}

func TestIsHealthyVacuouslyTrueBeforeFirstRun(t *testing.T) {
	c := NewChecker(newTestDB(t), nil, nil)
	require.True(t, c.IsHealthy())
}

func TestBreakerFleetCheckFailsWhenEveryBreakerIsOpen(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1})
	breakers.For("n1").Allow()
	breakers.For("n1").RecordFailure()

	require.Error(t, checkBreakerFleet(breakers))
}

func TestBreakerFleetCheckPassesWithNoBreakers(t *testing.T) {
	require.NoError(t, checkBreakerFleet(breaker.NewRegistry(breaker.Config{})))
}

func TestCustomCheckRuns(t *testing.T) {
	c := &Checker{
		checks: []Check{{Name: "always_pass", CheckFn: func(ctx context.Context) error { return nil }}},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	require.Len(t, statuses, 1)
	require.True(t, statuses[0].Healthy)
}

func TestFailingCheckIsReported(t *testing.T) {
	c := &Checker{
		checks: []Check{{Name: "always_fail", CheckFn: func(ctx context.Context) error { return os.ErrPermission }}},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	require.False(t, statuses[0].Healthy)
	require.NotEmpty(t, statuses[0].Error)
}

func TestStatusesReturnsACopy(t *testing.T) {
	c := NewChecker(newTestDB(t), nil, nil)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()
	require.NotEmpty(t, s1)
	s1[0].Healthy = false
	require.True(t, s2[0].Healthy)
}
