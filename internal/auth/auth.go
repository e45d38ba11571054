// Package auth implements the Auth Service (C2): short-lived bearer
// access tokens and longer-lived refresh tokens for inter-node calls,
// signed through the domain.Signer abstraction so the rest of the
// fabric never imports golang-jwt directly.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// ErrNoSignerConfigured is returned by GenerateToken when no Signer was
// supplied at construction time.
var ErrNoSignerConfigured = errors.New("auth: no signer configured")

// DefaultAccessTTL and DefaultRefreshTTL match spec defaults.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 24 * time.Hour
)

// Service issues and validates tokens for node-to-node calls.
type Service struct {
	signer domain.Signer
}

// New constructs a Service. signer may be nil; GenerateToken then
// always fails with ErrNoSignerConfigured, matching spec §4.2.
func New(signer domain.Signer) *Service {
	return &Service{signer: signer}
}

// GenerateToken issues a signed access token for node, valid for ttl
// (DefaultAccessTTL if zero or negative).
func (s *Service) GenerateToken(node *domain.Node, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", ErrNoSignerConfigured
	}
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	now := time.Now()
	claims := domain.TokenClaims{
		Subject:  node.ID,
		NodeSlug: node.Slug,
		Scopes:   node.Capabilities,
		IssuedAt: now.Unix(),
		ExpireAt: now.Add(ttl).Unix(),
	}
	return s.signer.Sign(claims)
}

// ValidateToken returns the claims carried by token, or nil if the
// token is invalid, malformed, or expired — this boundary never
// returns an error to callers, matching spec §4.2's "core never throws
// across this boundary".
func (s *Service) ValidateToken(token string) *domain.TokenClaims {
	if s.signer == nil {
		return nil
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil
	}
	if claims.ExpireAt <= time.Now().Unix() {
		return nil
	}
	return claims
}

// GenerateRefreshToken mints a new refresh token for node, storing only
// its hash on the node record and returning the plaintext once.
func (s *Service) GenerateRefreshToken(node *domain.Node, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	node.RefreshTokenHash = hashToken(plaintext)
	node.RefreshTokenExpiresAt = time.Now().Add(ttl)
	return plaintext, nil
}

// RefreshAccessToken exchanges a refresh-token plaintext for a new
// access token, validating it by hash comparison, expiry, and node
// status. Returns ErrRefreshTokenInvalid for a missing or mismatched
// hash, ErrTokenExpired once the refresh token has expired, and
// ErrUnauthorized when the node is not active.
func (s *Service) RefreshAccessToken(node *domain.Node, plaintext string) (string, error) {
	if node.RefreshTokenHash == "" {
		return "", domain.ErrRefreshTokenInvalid
	}
	if !constantTimeEqual(node.RefreshTokenHash, hashToken(plaintext)) {
		return "", domain.ErrRefreshTokenInvalid
	}
	if time.Now().After(node.RefreshTokenExpiresAt) {
		return "", domain.ErrTokenExpired
	}
	if node.GetStatus() != domain.StatusActive {
		return "", domain.ErrUnauthorized
	}
	return s.GenerateToken(node, DefaultAccessTTL)
}

// RevokeRefreshToken clears node's stored refresh-token hash.
func (s *Service) RevokeRefreshToken(node *domain.Node) {
	node.RefreshTokenHash = ""
	node.RefreshTokenExpiresAt = time.Time{}
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
