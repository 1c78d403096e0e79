package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dispatcher polls the delayed retry queue and hands due jobs to the worker
// pool. Claiming is done with ZRem so concurrent instances never double-run
// a job.
type Dispatcher struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop and runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("retry dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("retry dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll claims a batch of due jobs and submits them to the pool.
func (d *Dispatcher) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := d.redisClient.ZRangeByScore(ctx, RetryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: d.batchSize,
	}).Result()
	if err != nil {
		d.logger.Error("failed to poll retry queue", "error", err)
		return
	}

	for _, member := range results {
		removed, err := d.redisClient.ZRem(ctx, RetryQueueKey, member).Result()
		if err != nil {
			d.logger.Error("failed to claim retry job", "error", err)
			continue
		}
		if removed == 0 {
			// Another instance claimed it first
			continue
		}

		var job RetryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			d.logger.Error("failed to unmarshal retry job", "error", err)
			continue
		}

		d.pool.Submit(job)
	}
}
