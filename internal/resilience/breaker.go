// Package resilience wraps backend calls with circuit breaking, per-call
// timeouts, and bounded retry.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// Breaker guards one named backend. All calls to a backend go through its
// breaker; an open breaker fails fast with errkind.ErrCircuitOpen.
type Breaker struct {
	name        string
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
	onState     func(name string, state string)
}

// BreakerOption mutates construction defaults.
type BreakerOption func(*Breaker)

// WithStateHook registers a callback invoked on every state transition, used
// to publish breaker gauges.
func WithStateHook(fn func(name, state string)) BreakerOption {
	return func(b *Breaker) { b.onState = fn }
}

// NewBreaker builds a breaker from backend settings. failure_threshold maps to
// consecutive failures before tripping, recovery_s to the open interval, and
// half_open_probes to the probe budget while half-open.
func NewBreaker(name string, cfg config.BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:        name,
		callTimeout: time.Duration(cfg.CallTimeoutS) * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenProbes),
		Timeout:     time.Duration(cfg.RecoveryS) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			// Caller bugs must not poison the breaker.
			if err == nil || errors.Is(err, errkind.ErrValidation) || errors.Is(err, errkind.ErrCancelled) {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("backend", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("breaker state changed")
			if b.onState != nil {
				b.onState(name, to.String())
			}
		},
	})
	return b
}

// Name returns the backend name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State reports the current breaker state as closed, half-open, or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// StateValue returns the state as a gauge value (0=closed, 1=half-open, 2=open).
func (b *Breaker) StateValue() float64 {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Do runs fn under the breaker with the per-call timeout applied on top of the
// caller context. The call deadline never extends past the caller deadline.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	_, err := b.cb.Execute(func() (any, error) {
		if err := fn(callCtx); err != nil {
			return nil, errkind.FromContext(err)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errkind.Wrap(errkind.ErrCircuitOpen, "%s", b.name)
		}
		return err
	}
	return nil
}

// Registry holds the breaker per named backend.
type Registry struct {
	breakers map[string]*Breaker
}

// NewRegistry builds breakers for the standard backend set out of config.
func NewRegistry(cfg *config.Config, opts ...BreakerOption) *Registry {
	names := []string{"graph", "search", "market", "lm", "embed"}
	r := &Registry{breakers: make(map[string]*Breaker, len(names))}
	for _, name := range names {
		r.breakers[name] = NewBreaker(name, cfg.Breaker(name), opts...)
	}
	return r
}

// Get returns the breaker for a backend name, creating a default-configured
// one for unknown names.
func (r *Registry) Get(name string) *Breaker {
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, config.BreakerConfig{FailureThreshold: 5, RecoveryS: 60, CallTimeoutS: 10, HalfOpenProbes: 2})
	r.breakers[name] = b
	return b
}

// States returns the state string per backend, for health reporting.
func (r *Registry) States() map[string]string {
	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
