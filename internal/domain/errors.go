package domain

import "errors"

// ─── Validation sentinels ───────────────────────────────────────────────────
// Returned by the Validate methods on this package's types.

var (
	ErrInvalidNode         = errors.New("domain: node slug is required")
	ErrInvalidBaseURL      = errors.New("domain: node baseUrl is not a valid absolute URL")
	ErrInvalidWeight       = errors.New("domain: node weight must be >= 1")
	ErrInvalidBreakerState = errors.New("domain: open breaker state requires openedAt and a later nextRetryAt")
	ErrInvalidCacheEntry   = errors.New("domain: cache entry expiresAt must be after createdAt")
)

// ─── Error kind taxonomy ────────────────────────────────────────────────────
// Classifies a failure along the fan-out/merge path so the breaker, the
// merger, and the HTTP layer can branch on cause instead of on a specific
// wrapped error chain.

type ErrorKind string

const (
	KindTransportFailure        ErrorKind = "transport_failure"
	KindRemoteNonSuccess        ErrorKind = "remote_non_success"
	KindAuthFailure             ErrorKind = "auth_failure"
	KindCircuitOpen             ErrorKind = "circuit_open"
	KindRateLimited             ErrorKind = "rate_limited"
	KindNoAvailableNodes        ErrorKind = "no_available_nodes"
	KindTimeout                 ErrorKind = "timeout"
	KindCacheBackendUnavailable ErrorKind = "cache_backend_unavailable"
	KindDependencyFailure       ErrorKind = "dependency_failure"
	KindFederatedSearchFailed   ErrorKind = "federated_search_failed"
)

// NodeError wraps a failure observed while talking to, or reasoning about,
// a specific node, tagging it with an ErrorKind.
type NodeError struct {
	NodeSlug string
	Kind     ErrorKind
	Err      error
}

func (e *NodeError) Error() string {
	if e.NodeSlug == "" {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return e.NodeSlug + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *NodeError) Unwrap() error { return e.Err }

// Kind returns the ErrorKind carried by err if it (or something in its
// chain) is a *NodeError.
func Kind(err error) (ErrorKind, bool) {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind, true
	}
	return "", false
}

// NewNodeError is the standard way every component downstream of a node
// call should report failure.
func NewNodeError(nodeSlug string, kind ErrorKind, err error) *NodeError {
	return &NodeError{NodeSlug: nodeSlug, Kind: kind, Err: err}
}

// ─── Non-node-specific sentinels ────────────────────────────────────────────

var (
	ErrNoAvailableNodes        = errors.New("fabric: no available nodes for this request")
	ErrCircuitOpen             = errors.New("fabric: circuit breaker is open")
	ErrCircuitHalfOpenBusy     = errors.New("fabric: circuit breaker half-open trial already in flight")
	ErrCacheBackendUnavailable = errors.New("fabric: durable cache backend is unavailable")
	ErrFederatedSearchFailed   = errors.New("fabric: federated search failed across all nodes")
	ErrNodeNotFound            = errors.New("fabric: node not found")
	ErrNodeExists              = errors.New("fabric: node already registered")
	ErrUnauthorized            = errors.New("fabric: unauthorized")
	ErrTokenExpired            = errors.New("fabric: token expired")
	ErrRefreshTokenInvalid     = errors.New("fabric: refresh token invalid or revoked")
)
