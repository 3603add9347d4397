package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryQueueKey is the Redis sorted set holding scheduled delivery jobs,
// scored by the earliest time they may fire. First attempts are scored "now";
// retries are scored now+delay, which is how the inter-attempt delay is
// implemented without parking a worker goroutine.
const DeliveryQueueKey = "webhookd:delivery_queue"

// DeliveryJob is one scheduled delivery for one (subscription, event)
// pipeline. Endpoint URL, secret and headers are deliberately not embedded:
// the deliverer re-reads the subscription when the job fires, so a
// subscription disabled mid-retry is caught before any HTTP is sent and
// secrets never sit in Redis.
type DeliveryJob struct {
	// AttemptID references a pre-created pending row for first attempts.
	// Empty for retries; the deliverer creates the row when the job fires.
	AttemptID      string          `json:"attempt_id,omitempty"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	ResourceID     string          `json:"resource_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
}

// Queue schedules delivery jobs in a Redis sorted set. It is shared by the
// coordinator (first attempts), the deliverer (retries) and the poller
// (claiming ready jobs).
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue schedules a single job to fire no earlier than readyAt.
func (q *Queue) Enqueue(ctx context.Context, job DeliveryJob, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling delivery job: %w", err)
	}
	err = q.client.ZAdd(ctx, DeliveryQueueKey, redis.Z{
		Score:  float64(readyAt.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing delivery job: %w", err)
	}
	return nil
}

// EnqueueBatch schedules many jobs in one round trip via a Redis pipeline.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []DeliveryJob, readyAt time.Time) error {
	pipe := q.client.Pipeline()
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshaling delivery job: %w", err)
		}
		pipe.ZAdd(ctx, DeliveryQueueKey, redis.Z{
			Score:  float64(readyAt.UnixMicro()),
			Member: string(data),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuing delivery jobs: %w", err)
	}
	return nil
}

// Claim atomically takes up to limit jobs whose fire time has passed.
// ZRem acts as the claim: if another instance already removed the member,
// the job is skipped here.
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int64) ([]DeliveryJob, error) {
	max := strconv.FormatFloat(float64(now.UnixMicro()), 'f', -1, 64)
	results, err := q.client.ZRangeByScore(ctx, DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling delivery queue: %w", err)
	}

	var jobs []DeliveryJob
	for _, member := range results {
		removed, err := q.client.ZRem(ctx, DeliveryQueueKey, member).Result()
		if err != nil {
			return jobs, fmt.Errorf("claiming delivery job: %w", err)
		}
		if removed == 0 {
			continue
		}

		var job DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			// Poison member already removed from the set; report and move on.
			return jobs, fmt.Errorf("unmarshaling delivery job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of scheduled jobs, including delayed retries.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DeliveryQueueKey).Result()
}
