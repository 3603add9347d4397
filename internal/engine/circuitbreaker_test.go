package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(t *testing.T) (*CircuitBreaker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCircuitBreaker(client, quietLogger()), client
}

// ageCircuit rewinds last_failed_at so the cooldown appears elapsed without
// sleeping in the test.
func ageCircuit(t *testing.T, client *redis.Client, subscriptionID string, age time.Duration) {
	t.Helper()
	past := time.Now().Add(-age).Unix()
	err := client.HSet(context.Background(), circuitKey(subscriptionID),
		"last_failed_at", strconv.FormatInt(past, 10)).Err()
	require.NoError(t, err)
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb, _ := testBreaker(t)
	ctx := context.Background()

	assert.True(t, cb.Allow(ctx, "sub-1"))
	assert.Equal(t, CircuitClosed, cb.State(ctx, "sub-1").State)
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "sub-1")
		assert.True(t, cb.Allow(ctx, "sub-1"), "failure %d should not open the circuit", i+1)
	}

	cb.RecordFailure(ctx, "sub-1")
	assert.False(t, cb.Allow(ctx, "sub-1"))

	state := cb.State(ctx, "sub-1")
	assert.Equal(t, CircuitOpen, state.State)
	assert.Equal(t, 5, state.Failures)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "sub-1")
	}
	cb.RecordSuccess(ctx, "sub-1")
	cb.RecordFailure(ctx, "sub-1")

	assert.True(t, cb.Allow(ctx, "sub-1"))
	assert.Equal(t, 1, cb.State(ctx, "sub-1").Failures)
}

func TestCircuitBreaker_CooldownAllowsProbe(t *testing.T) {
	cb, client := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "sub-1")
	}
	require.False(t, cb.Allow(ctx, "sub-1"))

	ageCircuit(t, client, "sub-1", time.Minute)

	// The first call after cooldown goes through as a half-open probe.
	assert.True(t, cb.Allow(ctx, "sub-1"))
	assert.Equal(t, CircuitHalfOpen, cb.State(ctx, "sub-1").State)
}

func TestCircuitBreaker_ProbeSuccessClosesCircuit(t *testing.T) {
	cb, client := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "sub-1")
	}
	ageCircuit(t, client, "sub-1", time.Minute)
	require.True(t, cb.Allow(ctx, "sub-1"))

	cb.RecordSuccess(ctx, "sub-1")

	state := cb.State(ctx, "sub-1")
	assert.Equal(t, CircuitClosed, state.State)
	assert.Zero(t, state.Failures)
	assert.True(t, cb.Allow(ctx, "sub-1"))
}

func TestCircuitBreaker_FailedProbeReopensCircuit(t *testing.T) {
	cb, client := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "sub-1")
	}
	ageCircuit(t, client, "sub-1", time.Minute)
	require.True(t, cb.Allow(ctx, "sub-1"))

	cb.RecordFailure(ctx, "sub-1")

	assert.Equal(t, CircuitOpen, cb.State(ctx, "sub-1").State)
	assert.False(t, cb.Allow(ctx, "sub-1"))
}

func TestCircuitBreaker_IsolatedPerSubscription(t *testing.T) {
	cb, _ := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "sub-broken")
	}

	assert.False(t, cb.Allow(ctx, "sub-broken"))
	assert.True(t, cb.Allow(ctx, "sub-healthy"))
	assert.Equal(t, CircuitClosed, cb.State(ctx, "sub-healthy").State)
}
