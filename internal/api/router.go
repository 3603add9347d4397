package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/store"
	ws "github.com/fieldops/webhookd/internal/websocket"
)

// NewRouter wires the HTTP surface: event ingestion, subscription management,
// delivery history, dashboard metrics and the live feed.
func NewRouter(pg *store.PostgresStore, coordinator *engine.Coordinator, queue *engine.Queue, breaker *engine.CircuitBreaker, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	webhookHandler := NewWebhookHandler(pg, coordinator, breaker)
	eventHandler := NewEventHandler(coordinator)
	dashHandler := NewDashboardHandler(pg, queue, hub)

	r.Get("/ws", hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Post("/events", eventHandler.Ingest)

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", webhookHandler.Create)
			r.Get("/", webhookHandler.List)
			r.Get("/{id}", webhookHandler.Get)
			r.Patch("/{id}", webhookHandler.Update)
			r.Delete("/{id}", webhookHandler.Delete)
			r.Post("/{id}/test", webhookHandler.Test)
			r.Get("/{id}/executions", webhookHandler.Executions)
			r.Get("/{id}/health", webhookHandler.Health)
		})

		r.Get("/dashboard", dashHandler.Metrics)
	})

	return r
}
