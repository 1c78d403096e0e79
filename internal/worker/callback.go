package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/moutainhigh/messagebus/internal/domain"
	"github.com/moutainhigh/messagebus/internal/engine"
	ws "github.com/moutainhigh/messagebus/internal/websocket"
)

// Connection pool discipline for outbound callbacks. One pooled client is
// shared by every delivery path in the process.
const (
	maxConnsPerRoute = 20
	maxConnsTotal    = 100
	callTimeout      = 5 * time.Second
)

var (
	// ErrCircuitOpen means the consumer's circuit breaker refused the
	// attempt; no request was made and no bookkeeping happened.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrRateLimited means the consumer's rate limit deferred the attempt.
	ErrRateLimited = errors.New("rate limited")
	// ErrDeliveryFailed means the outbound call was made and did not succeed.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// StatusWriter records delivery evidence. Implemented by the Postgres
// delivery-status store.
type StatusWriter interface {
	InsertStatus(ctx context.Context, status *domain.DeliveryStatus) error
}

// TicketUpdater persists a ticket's retry bookkeeping.
type TicketUpdater interface {
	UpdateTicketRetry(ctx context.Context, ticket *domain.CompensationTicket) error
}

// Client performs single outbound delivery attempts to consumer endpoints
// over a shared pooled transport. Construct once at process startup and
// Close at shutdown.
type Client struct {
	httpClient *http.Client
	statuses   StatusWriter
	tickets    TicketUpdater
	breaker    *engine.CircuitBreaker
	limiter    *engine.RateLimiter
	hub        *ws.Hub
	logger     *slog.Logger
}

// NewClient builds the delivery client with the process-wide connection pool:
// 20 connections per destination route, 100 total, 5 second connect/header
// timeouts and a 5 second overall call deadline.
func NewClient(statuses StatusWriter, tickets TicketUpdater, breaker *engine.CircuitBreaker, limiter *engine.RateLimiter, hub *ws.Hub, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     maxConnsPerRoute,
		MaxIdleConnsPerHost: maxConnsPerRoute,
		MaxIdleConns:        maxConnsTotal,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: callTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   callTimeout,
		ResponseHeaderTimeout: callTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   callTimeout,
		},
		statuses: statuses,
		tickets:  tickets,
		breaker:  breaker,
		limiter:  limiter,
		hub:      hub,
		logger:   logger,
	}
}

// Close releases pooled connections. Call at process shutdown.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Send performs one outbound delivery attempt to the consumer endpoint.
//
// On success a push-ok DeliveryStatus record is written; that record is the
// sole signal future sweeps rely on. On failure with a driving ticket, the
// ticket's retry count is incremented and its status updated; the fixed
// retry deadline is never extended. On failure without a ticket (live
// dispatch) nothing is written: the absence of a status record is itself the
// signal the sweep acts on later.
func (c *Client) Send(ctx context.Context, msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig) error {
	if cb == nil || cb.URL == "" {
		return fmt.Errorf("%w: consumer callback not configured", engine.ErrInvalidArgument)
	}

	if state, allowed := c.breaker.AllowRequest(ctx, cb.Key); !allowed {
		c.logger.Warn("delivery blocked by circuit breaker",
			"consumer_id", cb.Key,
			"state", state,
			"message_uuid", msg.UUID,
		)
		return fmt.Errorf("%w: consumer %s", ErrCircuitOpen, cb.Key)
	}

	if !c.limiter.Allow(ctx, cb.Key, cb.RateLimitPerSecond) {
		return fmt.Errorf("%w: consumer %s", ErrRateLimited, cb.Key)
	}

	start := time.Now()
	statusCode, err := c.post(ctx, msg, ticket, cb)
	elapsed := time.Since(start)

	if err == nil && statusCode >= 200 && statusCode < 300 {
		c.recordSuccess(ctx, msg, ticket, cb, statusCode, elapsed)
		return nil
	}

	failure := err
	if failure == nil {
		failure = fmt.Errorf("consumer returned HTTP %d", statusCode)
	}
	c.recordFailure(ctx, msg, ticket, cb, statusCode, elapsed, failure)
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, failure)
}

func (c *Client) post(ctx context.Context, msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URL, strings.NewReader(msg.Body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	attempt := 1
	if ticket != nil {
		attempt = ticket.RetryCount + 1
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bus-Signature", computeHMAC([]byte(msg.Body), cb.SecretKey))
	req.Header.Set("X-Bus-AppID", msg.AppID)
	req.Header.Set("X-Bus-Code", msg.Code)
	req.Header.Set("X-Bus-UUID", msg.UUID)
	req.Header.Set("X-Bus-MessageID", msg.MessageID)
	req.Header.Set("X-Bus-Attempt", strconv.Itoa(attempt))
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection returns to the pool
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}

func (c *Client) recordSuccess(ctx context.Context, msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig, statusCode int, elapsed time.Duration) {
	c.breaker.RecordSuccess(ctx, cb.Key)

	status := &domain.DeliveryStatus{
		AppID:       msg.AppID,
		MessageUUID: msg.UUID,
		ConsumerID:  cb.Key,
		Status:      domain.DeliveryStatusPushOK,
		CreateTime:  time.Now(),
	}
	if err := c.statuses.InsertStatus(ctx, status); err != nil {
		c.logger.Error("failed to record delivery status",
			"error", err,
			"message_uuid", msg.UUID,
			"consumer_id", cb.Key,
		)
	}

	if ticket != nil {
		ticket.NewStatus = domain.CompensateStatusRetryOK
		if err := c.tickets.UpdateTicketRetry(ctx, ticket); err != nil {
			c.logger.Error("failed to close ticket",
				"error", err,
				"ticket_id", ticket.ID,
			)
		}
	}

	c.logger.Info("delivery successful",
		"app_id", msg.AppID,
		"code", msg.Code,
		"message_uuid", msg.UUID,
		"consumer_id", cb.Key,
		"status_code", statusCode,
		"response_time_ms", elapsed.Milliseconds(),
		"request_id", middleware.GetReqID(ctx),
	)

	c.broadcast(msg, ticket, cb, "delivery_success", statusCode, elapsed, "")
}

func (c *Client) recordFailure(ctx context.Context, msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig, statusCode int, elapsed time.Duration, failure error) {
	c.breaker.RecordFailure(ctx, cb.Key)

	if ticket != nil {
		ticket.IncRetryCount()
		ticket.NewStatus = domain.CompensateStatusRetrying
		if err := c.tickets.UpdateTicketRetry(ctx, ticket); err != nil {
			c.logger.Error("failed to update ticket retry bookkeeping",
				"error", err,
				"ticket_id", ticket.ID,
			)
		}
	}

	c.logger.Warn("delivery failed",
		"error", failure,
		"app_id", msg.AppID,
		"code", msg.Code,
		"message_uuid", msg.UUID,
		"consumer_id", cb.Key,
		"status_code", statusCode,
		"response_time_ms", elapsed.Milliseconds(),
		"request_id", middleware.GetReqID(ctx),
	)

	c.broadcast(msg, ticket, cb, "delivery_failed", statusCode, elapsed, failure.Error())
}

func (c *Client) broadcast(msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig, kind string, statusCode int, elapsed time.Duration, errMsg string) {
	if c.hub == nil {
		return
	}

	event := ws.DeliveryEvent{
		Type:        kind,
		AppID:       msg.AppID,
		Code:        msg.Code,
		MessageUUID: msg.UUID,
		ConsumerID:  cb.Key,
		EndpointURL: cb.URL,
		ResponseMs:  elapsed.Milliseconds(),
		Error:       errMsg,
		Timestamp:   time.Now(),
	}
	if statusCode > 0 {
		event.StatusCode = &statusCode
	}
	if ticket != nil {
		event.TicketID = ticket.ID
		event.Attempt = ticket.RetryCount
	}
	c.hub.BroadcastDelivery(event)
}

// computeHMAC signs the message body with the consumer's secret.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
