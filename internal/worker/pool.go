package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
)

// Deliverer executes one claimed retry job.
type Deliverer interface {
	DeliverRetry(ctx context.Context, job RetryJob)
}

// DeliverRetry re-establishes the originating request's correlation id and
// performs the single second-chance attempt. Errors stay in the logs; the
// fast path never retries itself.
func (c *Client) DeliverRetry(ctx context.Context, job RetryJob) {
	if job.RequestID != "" {
		ctx = context.WithValue(ctx, middleware.RequestIDKey, job.RequestID)
	}

	// nil ticket: the second chance counts as a live-style attempt, so a
	// failure leaves no record for the sweep to find later.
	if err := c.Send(ctx, &job.Message, nil, &job.Callback); err != nil {
		c.logger.Warn("second compensate attempt failed",
			"error", err,
			"message_uuid", job.Message.UUID,
			"consumer_id", job.Callback.Key,
			"request_id", job.RequestID,
		)
	}
}

// Pool runs a fixed number of goroutines draining retry jobs.
type Pool struct {
	numWorkers int
	jobs       chan RetryJob
	deliverer  Deliverer
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, deliverer Deliverer, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan RetryJob, numWorkers*2),
		deliverer:  deliverer,
		logger:     logger,
	}
}

// Start launches the workers. They drain the jobs channel until it closes or
// the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit queues a job for the pool.
func (p *Pool) Submit(job RetryJob) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits for in-flight work to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.deliverer.DeliverRetry(ctx, job)
		}
	}
}
