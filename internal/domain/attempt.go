package domain

import (
	"encoding/json"
	"time"
)

// AttemptStatus is the outcome state of a single delivery attempt.
type AttemptStatus string

const (
	// AttemptPending marks a row created immediately before the HTTP call.
	AttemptPending AttemptStatus = "pending"
	// AttemptDelivered means the endpoint answered with a 2xx status.
	AttemptDelivered AttemptStatus = "delivered"
	// AttemptFailed covers non-2xx responses, timeouts and transport errors.
	AttemptFailed AttemptStatus = "failed"
	// AttemptRetrying is a live-feed state: the attempt failed and a follow-up
	// is scheduled. Persisted rows stay failed; the next attempt gets its own row.
	AttemptRetrying AttemptStatus = "retrying"
	// AttemptDisabled means the subscription was turned off while a retry was
	// pending; the attempt was never sent. Distinct from budget exhaustion.
	AttemptDisabled AttemptStatus = "disabled"
)

// DeliveryAttempt is one HTTP try against a subscription's endpoint for one
// event instance. Rows are append-only: a retry creates a new row rather than
// mutating the prior one, preserving full history for operators.
type DeliveryAttempt struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	ResourceID     string          `json:"resource_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	AttemptNumber  int             `json:"attempt_number"`
	Status         AttemptStatus   `json:"status"`
	HTTPStatus     *int            `json:"http_status,omitempty"`
	ResponseTimeMs *int            `json:"response_time_ms,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}
