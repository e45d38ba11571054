// Package breaker implements a per-node circuit breaker: closed admits
// traffic, open rejects it until a retry timeout elapses, half_open
// admits one trial request at a time: any trial failure re-opens it,
// and SuccessThreshold consecutive trial successes close it.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/infra/metrics"
)

// Config controls the admission thresholds. Zero values fall back to
// the package defaults.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RetryTimeout     time.Duration
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultRetryTimeout     = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = defaultRetryTimeout
	}
	return c
}

// Notifier is invoked after a breaker transitions state, letting an
// observer (internal/registry) mirror open/closed onto the node's own
// status field (spec §4.4's "mark node status=error" side effect).
type Notifier func(nodeSlug string, to domain.BreakerPhase)

// Breaker is a single node's circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	nodeSlug string
	cfg      Config
	state    domain.BreakerState
	trial    bool // a half-open trial request is currently in flight
	notify   Notifier
}

// New constructs a Breaker for nodeSlug, starting closed.
func New(nodeSlug string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		nodeSlug: nodeSlug,
		cfg:      cfg,
		state: domain.BreakerState{
			NodeID: nodeSlug,
			State:  domain.BreakerClosed,
		},
	}
}

// Allow reports whether a request may proceed, and for a half-open
// breaker reserves the single trial slot (subsequent concurrent callers
// are rejected with ErrCircuitHalfOpenBusy until the trial resolves).
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.State {
	case domain.BreakerClosed:
		return nil
	case domain.BreakerOpen:
		if time.Now().Before(b.state.NextRetryAt) {
			return domain.ErrCircuitOpen
		}
		b.transition(domain.BreakerHalfOpen)
		b.trial = true
		return nil
	case domain.BreakerHalfOpen:
		if b.trial {
			return domain.ErrCircuitHalfOpenBusy
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call, closing the breaker after
// SuccessThreshold consecutive half-open successes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	b.state.LastSuccessAt = time.Now()

	switch b.state.State {
	case domain.BreakerHalfOpen:
		b.state.SuccessCount++
		if b.state.SuccessCount >= b.cfg.SuccessThreshold {
			b.transition(domain.BreakerClosed)
		}
	case domain.BreakerClosed:
		b.state.FailureCount = 0
	}
}

// RecordFailure reports a failed call, opening the breaker once
// FailureThreshold consecutive failures accrue, or immediately on any
// half-open trial failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	b.state.LastFailureAt = time.Now()

	switch b.state.State {
	case domain.BreakerHalfOpen:
		b.transition(domain.BreakerOpen)
	case domain.BreakerClosed:
		b.state.FailureCount++
		if b.state.FailureCount >= b.cfg.FailureThreshold {
			b.transition(domain.BreakerOpen)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to domain.BreakerPhase) {
	from := b.state.State
	b.state.State = to
	switch to {
	case domain.BreakerOpen:
		now := time.Now()
		b.state.OpenedAt = now
		b.state.NextRetryAt = now.Add(b.cfg.RetryTimeout)
	case domain.BreakerClosed:
		b.state.FailureCount = 0
		b.state.SuccessCount = 0
	case domain.BreakerHalfOpen:
		b.state.SuccessCount = 0
	}
	metrics.BreakerState.WithLabelValues(b.nodeSlug).Set(metrics.BreakerPhaseValue(string(to)))
	if from != to {
		log.Info().Str("node", b.nodeSlug).Str("from", string(from)).Str("to", string(to)).Msg("breaker transition")
		if b.notify != nil {
			b.notify(b.nodeSlug, to)
		}
	}
}

// SetNotifier attaches a state-transition observer. Transitions made
// after it returns invoke it; a transition already in progress (holding
// mu) completes with the previous notifier.
func (b *Breaker) SetNotifier(fn Notifier) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Snapshot returns a copy of the breaker's current state.
func (b *Breaker) Snapshot() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry owns one Breaker per node slug, created lazily.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
	notify   Notifier
}

// NewRegistry constructs a breaker Registry sharing cfg across nodes.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// SetNotifier attaches a transition observer to every breaker this
// registry owns, present and future.
func (r *Registry) SetNotifier(fn Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
	for _, b := range r.breakers {
		b.SetNotifier(fn)
	}
}

// For returns (creating if necessary) the Breaker for nodeSlug.
func (r *Registry) For(nodeSlug string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[nodeSlug]
	if !ok {
		b = New(nodeSlug, r.cfg)
		if r.notify != nil {
			b.SetNotifier(r.notify)
		}
		r.breakers[nodeSlug] = b
	}
	return b
}

// Snapshot returns the current state of every known breaker.
func (r *Registry) Snapshot() []domain.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BreakerState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
