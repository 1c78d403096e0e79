package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/moutainhigh/messagebus/internal/bus"
	"github.com/moutainhigh/messagebus/internal/engine"
	"github.com/moutainhigh/messagebus/internal/store"
	ws "github.com/moutainhigh/messagebus/internal/websocket"
	"github.com/redis/go-redis/v9"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, redisClient *redis.Client, publisher *bus.Publisher,
	orchestrator *engine.Orchestrator, cb *engine.CircuitBreaker, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(corsMiddleware)

	// Handlers
	messageHandler := NewMessageHandler(pgStore, publisher)
	configHandler := NewConfigHandler(pgStore)
	ticketHandler := NewTicketHandler(pgStore)
	statusHandler := NewStatusHandler(pgStore)
	compensateHandler := NewCompensateHandler(orchestrator, pgStore)
	metricsHandler := NewMetricsHandler(pgStore, redisClient, cb, hub)

	// WebSocket endpoint for the ops feed
	r.Get("/ws", hub.HandleWebSocket)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", messageHandler.Publish)
			r.Get("/", messageHandler.List)
			r.Get("/{uuid}", messageHandler.Get)
		})

		r.Route("/configs", func(r chi.Router) {
			r.Post("/", configHandler.Create)
			r.Get("/", configHandler.List)
			r.Get("/{appID}", configHandler.Get)
			r.Patch("/{appID}/{code}/callbacks/{consumerID}", configHandler.UpdateCallback)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", ticketHandler.List)
			r.Get("/{id}", ticketHandler.Get)
		})

		r.Get("/deliveries", statusHandler.List)

		r.Route("/compensate", func(r chi.Router) {
			r.Post("/run", compensateHandler.Run)
			r.Post("/run/{appID}/{code}", compensateHandler.RunType)
		})

		r.Get("/metrics", metricsHandler.Metrics)
		r.Get("/consumers-health", metricsHandler.ConsumersHealth)
	})

	return r
}

// corsMiddleware adds CORS headers for ops tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
