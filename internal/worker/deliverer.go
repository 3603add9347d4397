package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/webhookd/internal/domain"
	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/metrics"
	ws "github.com/fieldops/webhookd/internal/websocket"
)

// Store is the slice of the execution store the deliverer needs.
type Store interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	FinalizeAttempt(ctx context.Context, id string, status domain.AttemptStatus, httpStatus *int, responseTimeMs int, errMsg string) error
	IncrementRollups(ctx context.Context, subscriptionID string, status domain.AttemptStatus) error
}

// Deliverer drives one delivery job to a per-attempt outcome: it performs a
// single bounded HTTP POST, records the attempt, and either finalizes the
// pipeline or schedules the next attempt. Retry policy lives in
// engine.NextAction; this component never loops.
type Deliverer struct {
	httpClient *http.Client
	store      Store
	queue      *engine.Queue
	breaker    *engine.CircuitBreaker
	hub        *ws.Hub
	logger     *slog.Logger
}

func NewDeliverer(store Store, queue *engine.Queue, breaker *engine.CircuitBreaker, hub *ws.Hub, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		// Per-attempt deadlines come from the subscription via request
		// context; the client itself carries no timeout.
		httpClient: &http.Client{},
		store:      store,
		queue:      queue,
		breaker:    breaker,
		hub:        hub,
		logger:     logger,
	}
}

// Deliver executes one claimed job. All failures become attempt records and
// rollup updates; nothing propagates to the event producer.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	sub, err := d.store.GetSubscription(ctx, job.SubscriptionID)
	if err != nil {
		d.logger.Error("failed to load subscription for delivery",
			"subscription_id", job.SubscriptionID, "error", err)
		return
	}
	if sub == nil {
		d.logger.Warn("subscription deleted before delivery, dropping job",
			"subscription_id", job.SubscriptionID)
		return
	}

	// A retry claimed after the operator turned the subscription off must
	// not fire. Recorded as disabled, distinct from budget exhaustion.
	if sub.Status != domain.SubscriptionActive {
		d.finalizeDisabled(ctx, sub, job)
		return
	}

	attemptID, err := d.ensureAttemptRow(ctx, job)
	if err != nil {
		d.logger.Error("failed to create delivery attempt",
			"subscription_id", sub.ID, "error", err)
		return
	}

	var out engine.Outcome
	circuitSkipped := false
	if !d.breaker.Allow(ctx, sub.ID) {
		circuitSkipped = true
		out = engine.Outcome{
			Class: engine.OutcomeTransportError,
			Err:   "circuit open: delivery skipped",
		}
	} else {
		out = d.attempt(ctx, sub, job, attemptID)
	}

	rowStatus := domain.AttemptFailed
	if out.Class == engine.OutcomeSuccess {
		rowStatus = domain.AttemptDelivered
	}
	if err := d.store.FinalizeAttempt(ctx, attemptID, rowStatus, out.HTTPStatus, out.ResponseTimeMs, out.Err); err != nil {
		d.logger.Error("failed to record delivery attempt",
			"attempt_id", attemptID, "subscription_id", sub.ID, "error", err)
	}
	metrics.AttemptsTotal.WithLabelValues(string(rowStatus)).Inc()

	if !circuitSkipped {
		switch out.Class {
		case engine.OutcomeSuccess:
			d.breaker.RecordSuccess(ctx, sub.ID)
		case engine.OutcomeTransportError, engine.OutcomeReceiverError:
			d.breaker.RecordFailure(ctx, sub.ID)
		}
	}

	switch action := engine.NextAction(sub, job.Attempt, out); action.Kind {
	case engine.ActionFinalizeSuccess:
		d.finalizePipeline(ctx, sub, job, attemptID, domain.AttemptDelivered, out)
		d.logger.Info("delivery successful",
			"subscription_id", sub.ID,
			"event_type", job.EventType,
			"attempt", job.Attempt,
			"http_status", derefInt(out.HTTPStatus),
			"response_time_ms", out.ResponseTimeMs,
		)

	case engine.ActionFinalizeFailure:
		d.finalizePipeline(ctx, sub, job, attemptID, domain.AttemptFailed, out)
		d.logger.Warn("delivery failed, budget exhausted",
			"subscription_id", sub.ID,
			"event_type", job.EventType,
			"attempt", job.Attempt,
			"max_attempts", sub.MaxAttempts,
			"http_status", derefInt(out.HTTPStatus),
			"error", out.Err,
		)

	case engine.ActionRetry:
		next := engine.DeliveryJob{
			SubscriptionID: job.SubscriptionID,
			EventType:      job.EventType,
			ResourceID:     job.ResourceID,
			Payload:        job.Payload,
			Attempt:        job.Attempt + 1,
		}
		if err := d.queue.Enqueue(ctx, next, time.Now().Add(action.Delay)); err != nil {
			d.logger.Error("failed to schedule retry",
				"subscription_id", sub.ID, "attempt", job.Attempt+1, "error", err)
			// Without the scheduled retry the pipeline is over; account for it.
			d.finalizePipeline(ctx, sub, job, attemptID, domain.AttemptFailed, out)
			return
		}
		d.broadcast(string(domain.AttemptRetrying), sub, job, attemptID, out)
		d.logger.Info("delivery failed, retry scheduled",
			"subscription_id", sub.ID,
			"event_type", job.EventType,
			"attempt", job.Attempt,
			"retry_in", action.Delay.String(),
			"error", out.Err,
		)
	}
}

// ensureAttemptRow returns the pending row for this attempt. First attempts
// carry a pre-created row id from the coordinator; retries create their row
// here, after the delay has elapsed and the status check has passed, so a
// pipeline never has more than one pending row.
func (d *Deliverer) ensureAttemptRow(ctx context.Context, job engine.DeliveryJob) (string, error) {
	if job.AttemptID != "" {
		return job.AttemptID, nil
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: job.SubscriptionID,
		EventType:      job.EventType,
		ResourceID:     job.ResourceID,
		Payload:        job.Payload,
		AttemptNumber:  job.Attempt,
		Status:         domain.AttemptPending,
		StartedAt:      time.Now().UTC(),
	}
	if err := d.store.CreateAttempt(ctx, attempt); err != nil {
		return "", err
	}
	return attempt.ID, nil
}

// attempt performs the single HTTP POST. Outcome classification follows the
// error taxonomy: unbuildable requests are configuration errors (terminal),
// network failures are transport errors, non-2xx responses receiver errors.
func (d *Deliverer) attempt(ctx context.Context, sub *domain.Subscription, job engine.DeliveryJob, attemptID string) engine.Outcome {
	if _, err := url.ParseRequestURI(sub.URL); err != nil {
		return engine.Outcome{
			Class: engine.OutcomeConfigError,
			Err:   fmt.Sprintf("invalid endpoint URL: %v", err),
		}
	}

	envelope := engine.NewEnvelope(job.EventType, job.Payload, job.ResourceID, time.Now())
	body, err := envelope.Encode()
	if err != nil {
		return engine.Outcome{
			Class: engine.OutcomeConfigError,
			Err:   fmt.Sprintf("encoding envelope: %v", err),
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return engine.Outcome{
			Class: engine.OutcomeConfigError,
			Err:   fmt.Sprintf("building request: %v", err),
		}
	}

	// Custom headers first: the canonical headers below must win, so a
	// subscription can never spoof the signature or content type.
	for k, v := range sub.CustomHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", job.EventType)
	req.Header.Set("X-Webhook-ID", attemptID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(job.Attempt))
	if sub.Secret != "" {
		req.Header.Set(engine.SignatureHeaderName, engine.SignatureHeader(sub.Secret, body))
	} else {
		req.Header.Del(engine.SignatureHeaderName)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	elapsed := time.Since(start)
	metrics.DeliveryDuration.Observe(elapsed.Seconds())

	if err != nil {
		return engine.Outcome{
			Class:          engine.OutcomeTransportError,
			ResponseTimeMs: int(elapsed.Milliseconds()),
			Err:            fmt.Sprintf("request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return engine.Outcome{
			Class:          engine.OutcomeSuccess,
			HTTPStatus:     &status,
			ResponseTimeMs: int(elapsed.Milliseconds()),
		}
	}

	// Capture a bounded slice of the body for operator diagnosis. Never
	// parsed or trusted beyond the status code.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return engine.Outcome{
		Class:          engine.OutcomeReceiverError,
		HTTPStatus:     &status,
		ResponseTimeMs: int(elapsed.Milliseconds()),
		Err:            fmt.Sprintf("HTTP %d: %s", status, string(snippet)),
	}
}

// finalizePipeline updates rollup counters for a terminal pipeline state and
// notifies the live feed. Counters move once per pipeline, not per attempt.
func (d *Deliverer) finalizePipeline(ctx context.Context, sub *domain.Subscription, job engine.DeliveryJob, attemptID string, state domain.AttemptStatus, out engine.Outcome) {
	if err := d.store.IncrementRollups(ctx, sub.ID, state); err != nil {
		d.logger.Error("failed to update subscription rollups",
			"subscription_id", sub.ID, "error", err)
	}
	metrics.PipelinesTotal.WithLabelValues(string(state)).Inc()
	d.broadcast(string(state), sub, job, attemptID, out)
}

// finalizeDisabled records the mid-flight cancellation: the attempt row is
// written as disabled and no HTTP is sent.
func (d *Deliverer) finalizeDisabled(ctx context.Context, sub *domain.Subscription, job engine.DeliveryJob) {
	errMsg := fmt.Sprintf("subscription %s at delivery time", sub.Status)
	out := engine.Outcome{Err: errMsg}

	attemptID := job.AttemptID
	if attemptID == "" {
		attempt := &domain.DeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventType:      job.EventType,
			ResourceID:     job.ResourceID,
			Payload:        job.Payload,
			AttemptNumber:  job.Attempt,
			Status:         domain.AttemptPending,
			StartedAt:      time.Now().UTC(),
		}
		if err := d.store.CreateAttempt(ctx, attempt); err != nil {
			d.logger.Error("failed to record disabled attempt",
				"subscription_id", sub.ID, "error", err)
			return
		}
		attemptID = attempt.ID
	}
	if err := d.store.FinalizeAttempt(ctx, attemptID, domain.AttemptDisabled, nil, 0, errMsg); err != nil {
		d.logger.Error("failed to finalize disabled attempt",
			"attempt_id", attemptID, "error", err)
	}

	metrics.AttemptsTotal.WithLabelValues(string(domain.AttemptDisabled)).Inc()
	d.finalizePipeline(ctx, sub, job, attemptID, domain.AttemptDisabled, out)
	d.logger.Info("delivery cancelled, subscription no longer active",
		"subscription_id", sub.ID,
		"status", sub.Status,
		"event_type", job.EventType,
		"attempt", job.Attempt,
	)
}

func (d *Deliverer) broadcast(kind string, sub *domain.Subscription, job engine.DeliveryJob, attemptID string, out engine.Outcome) {
	d.hub.Broadcast(ws.AttemptUpdate{
		Kind:           kind,
		AttemptID:      attemptID,
		SubscriptionID: sub.ID,
		EventType:      job.EventType,
		Attempt:        job.Attempt,
		HTTPStatus:     out.HTTPStatus,
		ResponseTimeMs: out.ResponseTimeMs,
		Error:          out.Err,
		Timestamp:      time.Now().UTC(),
	})
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
