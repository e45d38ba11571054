package jwtsigner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := New("top-secret")
	require.NoError(t, err)

	claims := domain.TokenClaims{
		Subject:  "node-1",
		NodeSlug: "edge-1",
		Scopes:   []string{"search", "chat"},
		IssuedAt: time.Now().Unix(),
		ExpireAt: time.Now().Add(time.Hour).Unix(),
	}
	tok, err := s.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	got, err := s.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "node-1", got.Subject)
	require.Equal(t, "edge-1", got.NodeSlug)
	require.ElementsMatch(t, []string{"search", "chat"}, got.Scopes)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s1, _ := New("secret-a")
	s2, _ := New("secret-b")

	tok, err := s1.Sign(domain.TokenClaims{Subject: "n", ExpireAt: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = s2.Verify(tok)
	require.Error(t, err)
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
