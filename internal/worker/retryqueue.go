package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/moutainhigh/messagebus/internal/domain"
	"github.com/moutainhigh/messagebus/internal/engine"
	"github.com/redis/go-redis/v9"
)

// RetryQueueKey is the Redis sorted set holding delayed fast-path retry
// jobs; the score is the due time in microseconds.
const RetryQueueKey = "second_compensate_queue"

// RetryJob is one scheduled fast-path delivery attempt. The message content
// and the resolved callback are embedded so execution does not depend on the
// message log or on configuration staying unchanged, and the correlation id
// of the originating request rides along for log attribution.
type RetryJob struct {
	Message   domain.Message        `json:"message"`
	Callback  domain.CallbackConfig `json:"callback"`
	RequestID string                `json:"request_id,omitempty"`
}

// RetryScheduler schedules the single extra "second chance" delivery attempt
// issued right after a failed live dispatch, decoupled from the periodic
// sweep cadence.
type RetryScheduler struct {
	redisClient *redis.Client
	configs     engine.ConfigProvider
	logger      *slog.Logger
}

func NewRetryScheduler(redisClient *redis.Client, configs engine.ConfigProvider, logger *slog.Logger) *RetryScheduler {
	return &RetryScheduler{
		redisClient: redisClient,
		configs:     configs,
		logger:      logger,
	}
}

// SecondCompensate schedules exactly one delayed delivery attempt for
// (message, consumer). Fire and forget: it returns immediately, never
// surfaces an error to the caller and never retries itself. The caller's
// request-correlation id is captured before detaching so downstream logs can
// still be attributed to the originating request.
func (s *RetryScheduler) SecondCompensate(ctx context.Context, msg *domain.Message, consumerID string, delay time.Duration) {
	requestID := middleware.GetReqID(ctx)

	go s.schedule(msg, consumerID, delay, requestID)
}

func (s *RetryScheduler) schedule(msg *domain.Message, consumerID string, delay time.Duration, requestID string) {
	// Detached from the originating request; it may already be finished.
	ctx := context.Background()
	logger := s.logger.With("request_id", requestID, "message_uuid", msg.UUID, "consumer_id", consumerID)

	logger.Info("second compensate begin")
	defer logger.Info("second compensate end")

	appConfig, err := s.configs.GetAppConfig(ctx, msg.AppID)
	if err != nil || appConfig == nil {
		logger.Error("second compensate dropped: unknown app", "error", err, "app_id", msg.AppID)
		return
	}

	msgConfig := appConfig.MessageConfig(msg.Code)
	if msgConfig == nil {
		logger.Error("second compensate dropped: unknown code", "app_id", msg.AppID, "code", msg.Code)
		return
	}

	cb := msgConfig.Callback(consumerID)
	if cb == nil {
		logger.Error("second compensate dropped: unknown consumer", "app_id", msg.AppID, "code", msg.Code)
		return
	}

	job := RetryJob{
		Message:   *msg,
		Callback:  *cb,
		RequestID: requestID,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		logger.Error("second compensate dropped: marshal failed", "error", err)
		return
	}

	due := time.Now().Add(delay)
	if err := s.redisClient.ZAdd(ctx, RetryQueueKey, redis.Z{
		Score:  float64(due.UnixMicro()),
		Member: string(payload),
	}).Err(); err != nil {
		logger.Error("second compensate dropped: enqueue failed", "error", err)
		return
	}

	logger.Info("second compensate scheduled", "delay", delay.String())
}
