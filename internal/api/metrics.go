package api

import (
	"net/http"

	"github.com/moutainhigh/messagebus/internal/engine"
	"github.com/moutainhigh/messagebus/internal/store"
	"github.com/moutainhigh/messagebus/internal/worker"
	ws "github.com/moutainhigh/messagebus/internal/websocket"
	"github.com/redis/go-redis/v9"
)

type MetricsHandler struct {
	store       *store.PostgresStore
	redisClient *redis.Client
	cb          *engine.CircuitBreaker
	hub         *ws.Hub
}

func NewMetricsHandler(s *store.PostgresStore, redisClient *redis.Client, cb *engine.CircuitBreaker, hub *ws.Hub) *MetricsHandler {
	return &MetricsHandler{store: s, redisClient: redisClient, cb: cb, hub: hub}
}

// Metrics returns the aggregated delivery-assurance read model.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.GetDeliveryMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	queueDepth, err := h.redisClient.ZCard(r.Context(), worker.RetryQueueKey).Result()
	if err != nil {
		queueDepth = 0
	}

	type metricsResponse struct {
		store.DeliveryMetrics
		RetryQueueDepth  int64 `json:"retry_queue_depth"`
		WebSocketClients int   `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		DeliveryMetrics:  *metrics,
		RetryQueueDepth:  queueDepth,
		WebSocketClients: h.hub.ClientCount(),
	})
}

// ConsumersHealth reports every configured consumer callback together with
// its circuit breaker state.
func (h *MetricsHandler) ConsumersHealth(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.GetAllAppConfigs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list app configs")
		return
	}

	type consumerHealth struct {
		AppID          string                     `json:"app_id"`
		Code           string                     `json:"code"`
		ConsumerID     string                     `json:"consumer_id"`
		EndpointURL    string                     `json:"endpoint_url"`
		Enable         bool                       `json:"enable"`
		CircuitBreaker engine.CircuitBreakerState `json:"circuit_breaker"`
	}

	result := []consumerHealth{}
	for _, app := range apps {
		for _, mc := range app.MessageConfigs {
			for _, cb := range mc.Callbacks {
				result = append(result, consumerHealth{
					AppID:          app.AppID,
					Code:           mc.Code,
					ConsumerID:     cb.Key,
					EndpointURL:    cb.URL,
					Enable:         cb.Enable,
					CircuitBreaker: h.cb.GetState(r.Context(), cb.Key),
				})
			}
		}
	}

	respondJSON(w, http.StatusOK, result)
}
