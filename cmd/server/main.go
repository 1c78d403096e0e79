package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moutainhigh/messagebus/internal/api"
	"github.com/moutainhigh/messagebus/internal/bus"
	"github.com/moutainhigh/messagebus/internal/config"
	"github.com/moutainhigh/messagebus/internal/engine"
	"github.com/moutainhigh/messagebus/internal/store"
	ws "github.com/moutainhigh/messagebus/internal/websocket"
	"github.com/moutainhigh/messagebus/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")
	redisClient := redisStore.Client()

	// WebSocket hub for the real-time ops feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Delivery machinery
	breaker := engine.NewCircuitBreaker(redisClient, logger)
	limiter := engine.NewRateLimiter(redisClient, logger)

	client := worker.NewClient(pgStore, pgStore, breaker, limiter, hub, logger)
	defer client.Close()

	scheduler := worker.NewRetryScheduler(redisClient, pgStore, logger)
	publisher := bus.NewPublisher(pgStore, pgStore, client, scheduler, cfg.ServerIP, logger)

	// Compensation engine
	sweep := engine.NewSweep(pgStore, pgStore, pgStore, pgStore, logger)
	compensator := engine.NewCompensator(pgStore, pgStore, client, logger)
	orchestrator := engine.NewOrchestrator(pgStore, sweep, compensator, logger)

	// Fast-path retry workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool := worker.NewPool(cfg.NumWorkers, client, logger)
	pool.Start(workerCtx)

	dispatcher := worker.NewDispatcher(redisClient, pool, logger)
	go dispatcher.Start(workerCtx)

	// Optional built-in sweep ticker; most deployments drive the cycle from
	// an external scheduler through the compensate endpoint instead.
	if cfg.CompensateInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.CompensateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-ticker.C:
					if _, err := orchestrator.CheckAndCompensate(workerCtx); err != nil {
						logger.Error("scheduled compensation pass failed", "error", err)
					}
				}
			}
		}()
		logger.Info("internal compensation ticker enabled", "interval", cfg.CompensateInterval.String())
	}

	// Setup router
	router := api.NewRouter(pgStore, redisClient, publisher, orchestrator, breaker, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	stopWorkers()
	pool.Stop()

	logger.Info("server stopped")
}
