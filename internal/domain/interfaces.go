package domain

import "context"

// ─── Boundary interfaces ────────────────────────────────────────────────────
// External collaborators the core fabric consumes without depending on
// their implementation: an LLM for AI-mode digests, a local vector/full
// text search engine, node persistence, the durable cache tier, and the
// token signer behind the Auth Service (C2).

// LLMClient abstracts whatever backend produces an AI-mode node digest.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VectorSearchEngine abstracts the local search step a node performs
// against its own collections before results are returned to the caller
// (federated or local).
type VectorSearchEngine interface {
	Search(ctx context.Context, query string, collections []string, opts SearchOptions) ([]SearchResult, error)
}

// NodeStore abstracts durable persistence of Node records.
type NodeStore interface {
	Save(ctx context.Context, n *Node) error
	Get(ctx context.Context, id string) (*Node, error)
	GetBySlug(ctx context.Context, slug string) (*Node, error)
	List(ctx context.Context) ([]*Node, error)
	Delete(ctx context.Context, id string) error
}

// CacheBackend abstracts the durable tier of the two-tier federated
// search cache (§4.6). FlushByTag's ok result is false when the backend
// cannot support tag-scoped invalidation.
type CacheBackend interface {
	Put(ctx context.Context, entry CacheEntry) error
	Get(ctx context.Context, fingerprint string) (*CacheEntry, error)
	Forget(ctx context.Context, fingerprint string) error
	FlushByTag(ctx context.Context, tag string) (int, bool, error)
}

// TokenClaims is the payload carried by both access and refresh tokens
// issued by the Auth Service.
type TokenClaims struct {
	Subject  string   `json:"sub"`
	NodeSlug string   `json:"nodeSlug,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	IssuedAt int64    `json:"iat"`
	ExpireAt int64    `json:"exp"`
	Refresh  bool     `json:"refresh,omitempty"`
}

// Signer abstracts the JWT signing/verification backing the Auth
// Service, keeping node and HTTP code free of any direct golang-jwt
// dependency.
type Signer interface {
	Sign(claims TokenClaims) (string, error)
	Verify(token string) (*TokenClaims, error)
}
