package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/webhookd/internal/api"
	"github.com/fieldops/webhookd/internal/config"
	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/store"
	ws "github.com/fieldops/webhookd/internal/websocket"
	"github.com/fieldops/webhookd/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	queue := engine.NewQueue(redisStore.Client())
	breaker := engine.NewCircuitBreaker(redisStore.Client(), logger)
	coordinator := engine.NewCoordinator(pgStore, queue, logger)

	hub := ws.NewHub(logger)
	go hub.Run()

	deliverer := worker.NewDeliverer(pgStore, queue, breaker, hub, logger)
	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)

	// Deliveries run under the root context so claimed jobs can finish
	// during shutdown; only the claim loop is cancelled.
	pool.Start(ctx)

	pollCtx, stopPolling := context.WithCancel(ctx)
	poller := worker.NewPoller(queue, pool, logger)
	go poller.Start(pollCtx)

	router := api.NewRouter(pgStore, coordinator, queue, breaker, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop accepting triggers first, then stop claiming jobs, then drain
	// the pool. The poller is joined before the jobs channel closes so a
	// late Submit cannot hit a closed channel, and every job it claimed
	// from Redis is delivered before exit. Jobs still scheduled in Redis
	// are picked up on the next start.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopPolling()
	poller.Wait()
	pool.Stop()

	logger.Info("server stopped")
}
