package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// Strategy names accepted by retry policies.
const (
	StrategyFixed             = "fixed"
	StrategyLinear            = "linear"
	StrategyExponential       = "exponential"
	StrategyExponentialJitter = "exponential_jitter"
)

// Retryer re-runs an operation on retryable failures. Non-retryable kinds
// (validation, query, open circuit) abort immediately, and waiting never
// extends past the caller deadline.
type Retryer struct {
	name    string
	cfg     config.RetryConfig
	onRetry func(name string)
	sleep   func(ctx context.Context, d time.Duration) error
}

// RetryOption mutates construction defaults.
type RetryOption func(*Retryer)

// WithRetryHook registers a callback per retry attempt, used for counters.
func WithRetryHook(fn func(name string)) RetryOption {
	return func(r *Retryer) { r.onRetry = fn }
}

// NewRetryer builds a retryer for one backend from a named policy.
func NewRetryer(name string, cfg config.RetryConfig, opts ...RetryOption) *Retryer {
	r := &Retryer{name: name, cfg: cfg, sleep: sleepCtx}
	if r.cfg.MaxAttempts <= 0 {
		r.cfg.MaxAttempts = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn up to MaxAttempts times.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errkind.FromContext(err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errkind.Retryable(lastErr) || attempt == r.cfg.MaxAttempts {
			return lastErr
		}

		delay := r.delay(attempt)
		log.Debug().
			Str("backend", r.name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("retrying after failure")
		if r.onRetry != nil {
			r.onRetry(r.name)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return errkind.FromContext(err)
		}
	}
	return lastErr
}

// delay computes the wait before the next attempt. attempt is 1-based.
func (r *Retryer) delay(attempt int) time.Duration {
	initial := r.cfg.InitialDelayS
	if initial <= 0 {
		initial = 0.1
	}
	var sec float64
	switch r.cfg.Strategy {
	case StrategyFixed:
		sec = initial
	case StrategyLinear:
		sec = initial * float64(attempt)
	case StrategyExponential:
		sec = initial * float64(int(1)<<(attempt-1))
	default: // exponential_jitter
		sec = initial * float64(int(1)<<(attempt-1))
		if r.cfg.Jitter > 0 {
			sec += sec * r.cfg.Jitter * rand.Float64()
		}
	}
	if r.cfg.MaxDelayS > 0 && sec > r.cfg.MaxDelayS {
		sec = r.cfg.MaxDelayS
	}
	return time.Duration(sec * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Guard combines a breaker with a retryer for one backend. Retries wrap the
// breaker, so an attempt that trips the breaker open ends the retry loop on
// the next attempt (open circuit is not retryable).
type Guard struct {
	breaker *Breaker
	retryer *Retryer
}

// NewGuard pairs a breaker and a retryer.
func NewGuard(b *Breaker, r *Retryer) *Guard {
	return &Guard{breaker: b, retryer: r}
}

// Do runs fn under retry around breaker around timeout.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.retryer.Do(ctx, func(ctx context.Context) error {
		return g.breaker.Do(ctx, fn)
	})
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guard) Breaker() *Breaker { return g.breaker }
