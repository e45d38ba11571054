// Package jwtsigner implements domain.Signer with HMAC-signed JWTs,
// keeping golang-jwt confined to this single adapter.
package jwtsigner

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// Signer signs and verifies domain.TokenClaims as HS256 JWTs.
type Signer struct {
	secret []byte
}

// New constructs a Signer from a shared secret. An empty secret is
// rejected — a configured-but-blank secret would silently sign tokens
// anyone could forge.
func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("jwtsigner: secret must not be empty")
	}
	return &Signer{secret: []byte(secret)}, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	NodeSlug string   `json:"nodeSlug,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	Refresh  bool     `json:"refresh,omitempty"`
}

// Sign encodes claims as a signed JWT string.
func (s *Signer) Sign(claims domain.TokenClaims) (string, error) {
	jc := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpireAt, 0)),
		},
		NodeSlug: claims.NodeSlug,
		Scopes:   claims.Scopes,
		Refresh:  claims.Refresh,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwtsigner: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a signed JWT string, returning its claims.
func (s *Signer) Verify(token string) (*domain.TokenClaims, error) {
	var jc jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &jc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("jwtsigner: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwtsigner: verify: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("jwtsigner: token invalid")
	}
	return &domain.TokenClaims{
		Subject:  jc.Subject,
		NodeSlug: jc.NodeSlug,
		Scopes:   jc.Scopes,
		IssuedAt: jc.IssuedAt.Unix(),
		ExpireAt: jc.ExpiresAt.Unix(),
		Refresh:  jc.Refresh,
	}, nil
}

