package api

import (
	"net/http"

	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/store"
	ws "github.com/fieldops/webhookd/internal/websocket"
)

// DashboardHandler serves the aggregate view operators use to watch the
// dispatch engine: attempt counts, queue depth and live-feed connections.
type DashboardHandler struct {
	store *store.PostgresStore
	queue *engine.Queue
	hub   *ws.Hub
}

func NewDashboardHandler(s *store.PostgresStore, q *engine.Queue, hub *ws.Hub) *DashboardHandler {
	return &DashboardHandler{store: s, queue: q, hub: hub}
}

func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetDispatchMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		depth = 0
	}

	type response struct {
		store.DispatchMetrics
		QueueDepth       int64 `json:"queue_depth"`
		WebSocketClients int   `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, response{
		DispatchMetrics:  *m,
		QueueDepth:       depth,
		WebSocketClients: h.hub.ClientCount(),
	})
}
