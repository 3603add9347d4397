package api

import (
	"encoding/json"
	"net/http"

	"github.com/fieldops/webhookd/internal/engine"
)

// EventHandler ingests domain events from the CRUD collaborators. The call
// is fire-and-forget for the producer: matching subscriptions are identified
// synchronously, HTTP delivery happens in the worker pool.
type EventHandler struct {
	coordinator *engine.Coordinator
}

func NewEventHandler(c *engine.Coordinator) *EventHandler {
	return &EventHandler{coordinator: c}
}

type ingestEventRequest struct {
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id,omitempty"`
}

type ingestEventResponse struct {
	EventType string `json:"event_type"`
	Pipelines int    `json:"pipelines"`
}

func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		respondError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	}

	pipelines, err := h.coordinator.Trigger(
		r.Context(), req.EventType, req.Payload, req.ResourceID, r.Header.Get("X-User-ID"))
	if err != nil {
		// The only synchronous failures are caller bugs: unknown event
		// type or a non-object payload.
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, ingestEventResponse{
		EventType: req.EventType,
		Pipelines: pipelines,
	})
}
