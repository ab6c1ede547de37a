package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		RecoveryS:        60,
		CallTimeoutS:     1,
		HalfOpenProbes:   2,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("graph", testBreakerConfig())
	ctx := context.Background()

	fail := func(ctx context.Context) error {
		return errkind.Wrap(errkind.ErrBackendUnavailable, "connection refused")
	}

	for i := 0; i < 3; i++ {
		err := b.Do(ctx, fail)
		require.Error(t, err)
		assert.True(t, errkind.Retryable(err))
	}
	assert.Equal(t, "open", b.State())

	err := b.Do(ctx, fail)
	assert.ErrorIs(t, err, errkind.ErrCircuitOpen)
	assert.False(t, errkind.Retryable(err))
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker("search", testBreakerConfig())
	ctx := context.Background()

	fail := func(ctx context.Context) error { return errkind.ErrUpstream }
	ok := func(ctx context.Context) error { return nil }

	require.Error(t, b.Do(ctx, fail))
	require.Error(t, b.Do(ctx, fail))
	require.NoError(t, b.Do(ctx, ok))
	require.Error(t, b.Do(ctx, fail))
	require.Error(t, b.Do(ctx, fail))
	assert.Equal(t, "closed", b.State())
}

func TestBreakerValidationDoesNotTrip(t *testing.T) {
	b := NewBreaker("market", testBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := b.Do(ctx, func(ctx context.Context) error {
			return errkind.Wrap(errkind.ErrValidation, "empty symbol")
		})
		require.ErrorIs(t, err, errkind.ErrValidation)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerTimeoutClassified(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.CallTimeoutS = 0 // rely on caller context only
	b := NewBreaker("lm", cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, errkind.ErrTimeout)
}

func TestBreakerStateHook(t *testing.T) {
	var transitions []string
	b := NewBreaker("embed", testBreakerConfig(), WithStateHook(func(name, state string) {
		transitions = append(transitions, state)
	}))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, func(ctx context.Context) error { return errkind.ErrUpstream })
	}
	require.NotEmpty(t, transitions)
	assert.Equal(t, "open", transitions[len(transitions)-1])
	assert.Equal(t, float64(2), b.StateValue())
}

func TestRegistryStates(t *testing.T) {
	r := NewRegistry(config.Default())
	states := r.States()
	assert.Len(t, states, 5)
	for _, s := range states {
		assert.Equal(t, "closed", s)
	}
	assert.NotNil(t, r.Get("graph"))
}
