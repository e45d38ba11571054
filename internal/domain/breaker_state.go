package domain

import "time"

// BreakerPhase is the admission mode of a circuit breaker.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// BreakerState is the per-node circuit breaker record (spec §3).
type BreakerState struct {
	NodeID        string       `json:"nodeId"`
	State         BreakerPhase `json:"state"`
	FailureCount  int          `json:"failureCount"`
	SuccessCount  int          `json:"successCount"`
	LastFailureAt time.Time    `json:"lastFailureAt,omitempty"`
	LastSuccessAt time.Time    `json:"lastSuccessAt,omitempty"`
	OpenedAt      time.Time    `json:"openedAt,omitempty"`
	NextRetryAt   time.Time    `json:"nextRetryAt,omitempty"`
}

// Validate checks the invariant: state=open ⇒ openedAt set and
// nextRetryAt strictly after it.
func (b BreakerState) Validate() error {
	if b.State == BreakerOpen {
		if b.OpenedAt.IsZero() || !b.NextRetryAt.After(b.OpenedAt) {
			return ErrInvalidBreakerState
		}
	}
	return nil
}
