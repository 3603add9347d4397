package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/webhookd/internal/domain"
	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/store"
)

// WebhookHandler exposes the operator surface for subscriptions: CRUD,
// manual test triggers, delivery history and endpoint health.
type WebhookHandler struct {
	store       *store.PostgresStore
	coordinator *engine.Coordinator
	breaker     *engine.CircuitBreaker
}

func NewWebhookHandler(s *store.PostgresStore, c *engine.Coordinator, cb *engine.CircuitBreaker) *WebhookHandler {
	return &WebhookHandler{store: s, coordinator: c, breaker: cb}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := subscriptionFromRequest(&req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.UserID = r.Header.Get("X-User-ID")

	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !domain.ValidSubscriptionStatus(status) {
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	page, size := pagination(r)
	subs, total, err := h.store.ListSubscriptions(r.Context(), status, page, size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"webhooks": subs,
		"total":    total,
		"page":     page,
		"size":     size,
		"pages":    (total + size - 1) / size,
	})
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateUpdate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test starts a real delivery pipeline with a synthetic payload so operators
// can verify endpoint and signature configuration.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	payload := json.RawMessage(`{"test": true, "message": "webhook test delivery"}`)
	if r.Body != nil {
		var custom json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&custom); err == nil && len(custom) > 0 && json.Valid(custom) {
			payload = custom
		}
	}

	attemptID, err := h.coordinator.TestTrigger(r.Context(), sub, payload, "test-123")
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"message":    "test delivery queued",
		"attempt_id": attemptID,
	})
}

// Executions lists the delivery history for a subscription, newest first.
func (h *WebhookHandler) Executions(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	page, size := pagination(r)
	attempts, total, err := h.store.ListAttempts(r.Context(), sub.ID, page, size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"executions": attempts,
		"total":      total,
		"page":       page,
		"size":       size,
		"pages":      (total + size - 1) / size,
	})
}

// Health reports rollup counters plus the circuit breaker state.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"webhook_id":       sub.ID,
		"name":             sub.Name,
		"url":              sub.URL,
		"status":           sub.Status,
		"total_executions": sub.TotalExecutions,
		"success_count":    sub.SuccessCount,
		"failure_count":    sub.FailureCount,
		"last_executed_at": sub.LastExecutedAt,
		"circuit":          h.breaker.State(r.Context(), sub.ID),
	})
}

func (h *WebhookHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Subscription, bool) {
	sub, err := h.store.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil, false
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "webhook not found")
		return nil, false
	}
	return sub, true
}

// subscriptionFromRequest validates a create request and applies defaults.
// Unknown condition operators are rejected here, at save time, so the
// evaluator never sees one.
func subscriptionFromRequest(req *domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if err := validateEndpointURL(req.URL); err != nil {
		return nil, err
	}
	if !domain.ValidEventFilter(req.EventType) {
		return nil, fmt.Errorf("unknown event type %q", req.EventType)
	}
	if err := validateConditions(req.Conditions); err != nil {
		return nil, err
	}

	sub := &domain.Subscription{
		Name:              req.Name,
		Description:       req.Description,
		URL:               req.URL,
		EventType:         req.EventType,
		Secret:            req.Secret,
		CustomHeaders:     req.CustomHeaders,
		Conditions:        req.Conditions,
		MaxAttempts:       domain.DefaultMaxAttempts,
		RetryDelaySeconds: domain.DefaultRetryDelay,
		TimeoutSeconds:    domain.DefaultTimeout,
		Status:            domain.SubscriptionActive,
	}

	var err error
	if sub.MaxAttempts, err = boundedField("max_attempts", req.MaxAttempts, sub.MaxAttempts, domain.MaxAttemptsCeiling); err != nil {
		return nil, err
	}
	if sub.RetryDelaySeconds, err = boundedField("retry_delay_seconds", req.RetryDelaySeconds, sub.RetryDelaySeconds, domain.RetryDelayCeiling); err != nil {
		return nil, err
	}
	if sub.TimeoutSeconds, err = boundedField("timeout_seconds", req.TimeoutSeconds, sub.TimeoutSeconds, domain.TimeoutCeiling); err != nil {
		return nil, err
	}
	return sub, nil
}

func validateUpdate(req *domain.UpdateSubscriptionRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.URL != nil {
		if err := validateEndpointURL(*req.URL); err != nil {
			return err
		}
	}
	if req.EventType != nil && !domain.ValidEventFilter(*req.EventType) {
		return fmt.Errorf("unknown event type %q", *req.EventType)
	}
	if req.Conditions != nil {
		if err := validateConditions(*req.Conditions); err != nil {
			return err
		}
	}
	if req.Status != nil && !domain.ValidSubscriptionStatus(*req.Status) {
		return fmt.Errorf("unknown status %q", *req.Status)
	}
	if _, err := boundedField("max_attempts", req.MaxAttempts, domain.DefaultMaxAttempts, domain.MaxAttemptsCeiling); err != nil {
		return err
	}
	if _, err := boundedField("retry_delay_seconds", req.RetryDelaySeconds, domain.DefaultRetryDelay, domain.RetryDelayCeiling); err != nil {
		return err
	}
	if _, err := boundedField("timeout_seconds", req.TimeoutSeconds, domain.DefaultTimeout, domain.TimeoutCeiling); err != nil {
		return err
	}
	return nil
}

func validateEndpointURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	return nil
}

func validateConditions(conditions []domain.Condition) error {
	for i, c := range conditions {
		if c.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if !c.Operator.Valid() {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}

func boundedField(name string, val *int, fallback, ceiling int) (int, error) {
	if val == nil {
		return fallback, nil
	}
	if *val < 1 || *val > ceiling {
		return 0, fmt.Errorf("%s must be between 1 and %d", name, ceiling)
	}
	return *val, nil
}
