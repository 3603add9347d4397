package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit states. A subscription's circuit opens after consecutive failures,
// cools down, then lets a single probe attempt through.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitBreaker tracks per-subscription endpoint health in Redis. While a
// circuit is open the deliverer skips the HTTP call and records the attempt
// as failed, so the retry budget accounting is unchanged; the breaker only
// spares a clearly dead endpoint the actual traffic.
type CircuitBreaker struct {
	client           *redis.Client
	logger           *slog.Logger
	failureThreshold int64
	cooldown         time.Duration
}

// CircuitState is the externally visible breaker state for one subscription.
type CircuitState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(client *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		client:           client,
		logger:           logger,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
	}
}

func circuitKey(subscriptionID string) string {
	return "webhookd:circuit:" + subscriptionID
}

// Allow reports whether a delivery to this subscription may proceed. An open
// circuit whose cooldown has elapsed transitions to half-open and lets this
// one probe through.
func (cb *CircuitBreaker) Allow(ctx context.Context, subscriptionID string) bool {
	key := circuitKey(subscriptionID)

	data, err := cb.client.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return true
	}

	if data["state"] != CircuitOpen {
		return true
	}

	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
	if time.Now().Unix()-lastFailedAt >= int64(cb.cooldown.Seconds()) {
		cb.client.HSet(ctx, key, "state", CircuitHalfOpen)
		cb.logger.Info("circuit half-open, probing endpoint", "subscription_id", subscriptionID)
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, subscriptionID string) {
	key := circuitKey(subscriptionID)

	prev, _ := cb.client.HGet(ctx, key, "state").Result()
	cb.client.HSet(ctx, key, "state", CircuitClosed, "failures", 0)

	if prev == CircuitHalfOpen {
		cb.logger.Info("circuit closed, endpoint recovered", "subscription_id", subscriptionID)
	}
}

// RecordFailure counts a failed delivery and opens the circuit at the
// threshold. A failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, subscriptionID string) {
	key := circuitKey(subscriptionID)

	failures, err := cb.client.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit failure", "subscription_id", subscriptionID, "error", err)
		return
	}
	cb.client.HSet(ctx, key, "last_failed_at", time.Now().Unix())

	state, _ := cb.client.HGet(ctx, key, "state").Result()
	switch {
	case state == CircuitHalfOpen:
		cb.client.HSet(ctx, key, "state", CircuitOpen)
		cb.logger.Warn("circuit re-opened after failed probe", "subscription_id", subscriptionID)
	case failures >= cb.failureThreshold:
		cb.client.HSet(ctx, key, "state", CircuitOpen)
		cb.logger.Warn("circuit opened",
			"subscription_id", subscriptionID,
			"failures", failures,
		)
	case state == "":
		cb.client.HSet(ctx, key, "state", CircuitClosed)
	}
}

// State returns the breaker state for operator tooling.
func (cb *CircuitBreaker) State(ctx context.Context, subscriptionID string) CircuitState {
	data, err := cb.client.HGetAll(ctx, circuitKey(subscriptionID)).Result()
	if err != nil || len(data) == 0 {
		return CircuitState{State: CircuitClosed}
	}

	state := data["state"]
	if state == "" {
		state = CircuitClosed
	}
	failures, _ := strconv.Atoi(data["failures"])
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	if state == CircuitOpen && time.Now().Unix()-lastFailedAt >= int64(cb.cooldown.Seconds()) {
		state = CircuitHalfOpen
	}

	cs := CircuitState{State: state, Failures: failures}
	if lastFailedAt > 0 {
		cs.LastFailedAt = time.Unix(lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return cs
}
