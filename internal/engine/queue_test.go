package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client)
}

func TestQueue_ClaimRespectsReadyTime(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	now := time.Now()

	ready := DeliveryJob{SubscriptionID: "sub-ready", EventType: "intervention_created", Attempt: 1}
	delayed := DeliveryJob{SubscriptionID: "sub-delayed", EventType: "intervention_created", Attempt: 2}

	require.NoError(t, q.Enqueue(ctx, ready, now))
	require.NoError(t, q.Enqueue(ctx, delayed, now.Add(60*time.Second)))

	// Only the ready job fires now.
	jobs, err := q.Claim(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "sub-ready", jobs[0].SubscriptionID)

	// The delayed job stays invisible until its delay has elapsed.
	jobs, err = q.Claim(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = q.Claim(ctx, now.Add(61*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "sub-delayed", jobs[0].SubscriptionID)
	assert.Equal(t, 2, jobs[0].Attempt)
}

func TestQueue_ClaimRemovesJobs(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, DeliveryJob{SubscriptionID: "sub-1", Attempt: 1}, now))

	jobs, err := q.Claim(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Claimed once, gone forever.
	jobs, err = q.Claim(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueue_EnqueueBatch(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	now := time.Now()

	jobs := []DeliveryJob{
		{SubscriptionID: "sub-a", Attempt: 1},
		{SubscriptionID: "sub-b", Attempt: 1},
		{SubscriptionID: "sub-c", Attempt: 1},
	}
	require.NoError(t, q.EnqueueBatch(ctx, jobs, now))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)
}

func TestDeliveryJob_RoundTrip(t *testing.T) {
	original := DeliveryJob{
		AttemptID:      "att-1",
		SubscriptionID: "sub-1",
		EventType:      "report_generated",
		ResourceID:     "rep-42",
		Payload:        json.RawMessage(`{"report":"annual"}`),
		Attempt:        3,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded DeliveryJob
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.AttemptID, decoded.AttemptID)
	assert.Equal(t, original.SubscriptionID, decoded.SubscriptionID)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.ResourceID, decoded.ResourceID)
	assert.JSONEq(t, string(original.Payload), string(decoded.Payload))
	assert.Equal(t, original.Attempt, decoded.Attempt)
}
