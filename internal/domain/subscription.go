package domain

import (
	"time"
)

// SubscriptionStatus is the operator-controlled lifecycle state of a
// subscription. Only active subscriptions are candidates for dispatch.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionDisabled  SubscriptionStatus = "disabled"
)

// ValidSubscriptionStatus reports whether s is a known lifecycle state.
func ValidSubscriptionStatus(s string) bool {
	switch SubscriptionStatus(s) {
	case SubscriptionActive, SubscriptionInactive, SubscriptionSuspended, SubscriptionDisabled:
		return true
	}
	return false
}

// Operator is a condition comparison operator. The set is closed: unknown
// operators are rejected when the subscription is saved, never at evaluation.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// Condition is one declarative match rule against an event payload.
// All conditions on a subscription must hold for the event to be delivered.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Retry and timeout bounds, matching what operators can configure.
const (
	DefaultMaxAttempts  = 3
	MaxAttemptsCeiling  = 10
	DefaultRetryDelay   = 60
	RetryDelayCeiling   = 3600
	DefaultTimeout      = 30
	TimeoutCeiling      = 300
)

// Subscription is an operator-configured rule describing which events are
// forwarded to which endpoint, under what conditions, with what retry policy.
// Rollup counters are owned by the dispatch side and updated only when a
// delivery pipeline reaches a terminal state.
type Subscription struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	URL               string             `json:"url"`
	EventType         string             `json:"event_type"`
	Secret            string             `json:"secret,omitempty"`
	CustomHeaders     map[string]string  `json:"custom_headers,omitempty"`
	Conditions        []Condition        `json:"conditions,omitempty"`
	MaxAttempts       int                `json:"max_attempts"`
	RetryDelaySeconds int                `json:"retry_delay_seconds"`
	TimeoutSeconds    int                `json:"timeout_seconds"`
	Status            SubscriptionStatus `json:"status"`
	TotalExecutions   int                `json:"total_executions"`
	SuccessCount      int                `json:"success_count"`
	FailureCount      int                `json:"failure_count"`
	LastExecutedAt    *time.Time         `json:"last_executed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         *time.Time         `json:"updated_at,omitempty"`
}

// Timeout is the per-attempt HTTP deadline.
func (s *Subscription) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RetryDelay is the fixed delay between attempts.
func (s *Subscription) RetryDelay() time.Duration {
	if s.RetryDelaySeconds <= 0 {
		return DefaultRetryDelay * time.Second
	}
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// CreateSubscriptionRequest is the payload for registering a new subscription.
type CreateSubscriptionRequest struct {
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	URL               string            `json:"url"`
	EventType         string            `json:"event_type"`
	Secret            string            `json:"secret,omitempty"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
	Conditions        []Condition       `json:"conditions,omitempty"`
	MaxAttempts       *int              `json:"max_attempts,omitempty"`
	RetryDelaySeconds *int              `json:"retry_delay_seconds,omitempty"`
	TimeoutSeconds    *int              `json:"timeout_seconds,omitempty"`
}

// UpdateSubscriptionRequest carries a partial update; nil fields are untouched.
type UpdateSubscriptionRequest struct {
	Name              *string            `json:"name,omitempty"`
	Description       *string            `json:"description,omitempty"`
	URL               *string            `json:"url,omitempty"`
	EventType         *string            `json:"event_type,omitempty"`
	Secret            *string            `json:"secret,omitempty"`
	CustomHeaders     *map[string]string `json:"custom_headers,omitempty"`
	Conditions        *[]Condition       `json:"conditions,omitempty"`
	MaxAttempts       *int               `json:"max_attempts,omitempty"`
	RetryDelaySeconds *int               `json:"retry_delay_seconds,omitempty"`
	TimeoutSeconds    *int               `json:"timeout_seconds,omitempty"`
	Status            *string            `json:"status,omitempty"`
}
