package namematch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchesExact(t *testing.T) {
	require.True(t, Matches("Tickets", "tickets"))
}

func TestMatchesSingularPlural(t *testing.T) {
	require.True(t, Matches("ticket", "tickets"))
	require.True(t, Matches("tickets", "ticket"))
}

func TestMatchesNormalized(t *testing.T) {
	require.True(t, Matches("Support-Tickets!", "support tickets"))
}

func TestMatchesFalseForUnrelated(t *testing.T) {
	require.False(t, Matches("tickets", "invoices"))
}

func TestContains(t *testing.T) {
	require.True(t, Contains("customer-tickets", "tickets"))
	require.False(t, Contains("invoices", "tickets"))
}

func TestScoreExactIsHighest(t *testing.T) {
	require.Equal(t, 100, Score("tickets", "tickets", nil))
}

func TestScoreSingularPlural(t *testing.T) {
	require.Equal(t, 90, Score("ticket", "tickets", nil))
}

func TestScoreNormalized(t *testing.T) {
	require.Equal(t, 85, Score("support-tickets", "support tickets", nil))
}

func TestScoreContainsCandidate(t *testing.T) {
	require.Equal(t, 70, Score("customer-tickets", "tickets", nil))
}

func TestScoreContainsQuery(t *testing.T) {
	require.Equal(t, 50, Score("tickets", "customer-tickets", nil))
}

func TestScoreAliasExactDiscounted(t *testing.T) {
	require.Equal(t, 80, Score("issues", "tickets", []string{"tickets"}))
}

func TestScoreNoMatch(t *testing.T) {
	require.Equal(t, 0, Score("invoices", "tickets", nil))
}
