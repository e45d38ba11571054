package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/auth/jwtsigner"
	"github.com/mabou7agar/nodefabric/internal/domain"
)

func testNode() *domain.Node {
	return &domain.Node{ID: "n1", Slug: "edge-1", Status: domain.StatusActive, Capabilities: []string{"search"}}
}

func TestGenerateTokenRequiresSigner(t *testing.T) {
	s := New(nil)
	_, err := s.GenerateToken(testNode(), 0)
	require.ErrorIs(t, err, ErrNoSignerConfigured)
}

func TestGenerateAndValidateToken(t *testing.T) {
	signer, err := jwtsigner.New("shared-secret")
	require.NoError(t, err)
	s := New(signer)

	tok, err := s.GenerateToken(testNode(), time.Minute)
	require.NoError(t, err)

	claims := s.ValidateToken(tok)
	require.NotNil(t, claims)
	require.Equal(t, "edge-1", claims.NodeSlug)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	signer, _ := jwtsigner.New("shared-secret")
	s := New(signer)
	require.Nil(t, s.ValidateToken("not-a-jwt"))
}

func TestRefreshTokenLifecycle(t *testing.T) {
	signer, _ := jwtsigner.New("shared-secret")
	s := New(signer)
	node := testNode()

	plaintext, err := s.GenerateRefreshToken(node, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, node.RefreshTokenHash)

	access, err := s.RefreshAccessToken(node, plaintext)
	require.NoError(t, err)
	require.NotEmpty(t, access)

	_, err = s.RefreshAccessToken(node, "wrong-plaintext")
	require.ErrorIs(t, err, domain.ErrRefreshTokenInvalid)

	s.RevokeRefreshToken(node)
	_, err = s.RefreshAccessToken(node, plaintext)
	require.ErrorIs(t, err, domain.ErrRefreshTokenInvalid)
}

func TestRefreshAccessTokenRejectsExpired(t *testing.T) {
	signer, _ := jwtsigner.New("shared-secret")
	s := New(signer)
	node := testNode()

	plaintext, err := s.GenerateRefreshToken(node, time.Minute)
	require.NoError(t, err)
	node.RefreshTokenExpiresAt = time.Now().Add(-time.Minute)

	_, err = s.RefreshAccessToken(node, plaintext)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestRefreshAccessTokenRejectsInactiveNode(t *testing.T) {
	signer, _ := jwtsigner.New("shared-secret")
	s := New(signer)
	node := testNode()
	node.SetStatus(domain.StatusInactive)

	plaintext, err := s.GenerateRefreshToken(node, time.Minute)
	require.NoError(t, err)

	_, err = s.RefreshAccessToken(node, plaintext)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
