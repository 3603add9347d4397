package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/webhookd/internal/domain"
)

// SubscriptionSource is the slice of the store the coordinator needs: listing
// dispatch candidates and recording the first attempt of each pipeline.
type SubscriptionSource interface {
	ListActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error)
	CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
}

// Coordinator turns a domain event into independent delivery pipelines: it
// loads the active subscriptions for the event type, runs the condition
// evaluator, creates attempt #1 for each match and schedules the jobs. The
// HTTP work happens asynchronously in the worker pool, so Trigger returns as
// soon as the matches are queued and the producing transaction can never be
// blocked or failed by a slow receiver.
type Coordinator struct {
	subs   SubscriptionSource
	queue  *Queue
	logger *slog.Logger
}

func NewCoordinator(subs SubscriptionSource, queue *Queue, logger *slog.Logger) *Coordinator {
	return &Coordinator{subs: subs, queue: queue, logger: logger}
}

// Trigger dispatches an event. It returns the number of pipelines started.
// An unknown event type or unparseable payload is a caller bug and is the
// only error surfaced synchronously; delivery failures are recorded as data.
func (c *Coordinator) Trigger(ctx context.Context, eventType string, payload json.RawMessage, resourceID, actingUserID string) (int, error) {
	et, err := domain.ParseEventType(eventType)
	if err != nil {
		return 0, err
	}

	var data map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return 0, fmt.Errorf("event payload must be a JSON object: %w", err)
		}
	}

	event := &domain.Event{
		Type:       et,
		Timestamp:  time.Now().UTC(),
		ResourceID: resourceID,
		Payload:    data,
	}

	subs, err := c.subs.ListActiveSubscriptions(ctx, et)
	if err != nil {
		return 0, fmt.Errorf("loading subscriptions for %s: %w", et, err)
	}

	var jobs []DeliveryJob
	for i := range subs {
		sub := &subs[i]
		if !Matches(sub, event) {
			continue
		}

		attempt := &domain.DeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventType:      string(et),
			ResourceID:     resourceID,
			Payload:        payload,
			AttemptNumber:  1,
			Status:         domain.AttemptPending,
			StartedAt:      event.Timestamp,
		}
		if err := c.subs.CreateAttempt(ctx, attempt); err != nil {
			c.logger.Error("failed to create delivery attempt",
				"subscription_id", sub.ID,
				"event_type", et,
				"error", err,
			)
			continue
		}

		jobs = append(jobs, DeliveryJob{
			AttemptID:      attempt.ID,
			SubscriptionID: sub.ID,
			EventType:      string(et),
			ResourceID:     resourceID,
			Payload:        payload,
			Attempt:        1,
		})
	}

	if len(jobs) == 0 {
		c.logger.Debug("no matching subscriptions", "event_type", et)
		return 0, nil
	}

	if err := c.queue.EnqueueBatch(ctx, jobs, time.Now()); err != nil {
		return 0, err
	}

	c.logger.Info("event dispatched",
		"event_type", et,
		"resource_id", resourceID,
		"acting_user_id", actingUserID,
		"pipelines", len(jobs),
	)
	return len(jobs), nil
}

// TestTrigger starts a pipeline for a single subscription with a synthetic
// payload, bypassing condition matching. Used by the operator test endpoint.
func (c *Coordinator) TestTrigger(ctx context.Context, sub *domain.Subscription, payload json.RawMessage, resourceID string) (string, error) {
	if sub.Status != domain.SubscriptionActive {
		return "", fmt.Errorf("subscription %s is %s, not active", sub.ID, sub.Status)
	}

	eventType := sub.EventType
	if eventType == domain.EventTypeWildcard {
		eventType = string(domain.EventInterventionCreated)
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		ResourceID:     resourceID,
		Payload:        payload,
		AttemptNumber:  1,
		Status:         domain.AttemptPending,
		StartedAt:      time.Now().UTC(),
	}
	if err := c.subs.CreateAttempt(ctx, attempt); err != nil {
		return "", fmt.Errorf("creating test attempt: %w", err)
	}

	job := DeliveryJob{
		AttemptID:      attempt.ID,
		SubscriptionID: sub.ID,
		EventType:      eventType,
		ResourceID:     resourceID,
		Payload:        payload,
		Attempt:        1,
	}
	if err := c.queue.Enqueue(ctx, job, time.Now()); err != nil {
		return "", err
	}
	return attempt.ID, nil
}
