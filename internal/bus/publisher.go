package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moutainhigh/messagebus/internal/domain"
	"github.com/moutainhigh/messagebus/internal/engine"
)

// MessageWriter appends published messages to the durable log.
type MessageWriter interface {
	InsertMessage(ctx context.Context, m *domain.Message) error
}

// SecondCompensator schedules the single fast-path retry attempt after a
// failed live dispatch.
type SecondCompensator interface {
	SecondCompensate(ctx context.Context, msg *domain.Message, consumerID string, delay time.Duration)
}

// PublishRequest is one inbound publish call.
type PublishRequest struct {
	AppID     string `json:"app_id"`
	Code      string `json:"code"`
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
	IP        string `json:"ip,omitempty"`
}

// PublishResult reports the stored message and the per-consumer live
// dispatch outcomes.
type PublishResult struct {
	UUID      string          `json:"uuid"`
	Dispatch  map[string]bool `json:"dispatch"`
	Scheduled []string        `json:"scheduled_retries,omitempty"`
}

// Publisher accepts messages, persists them and runs the live dispatch fan
// out. A failed consumer gets exactly one fast-path retry scheduled; the
// periodic sweep covers everything after that.
type Publisher struct {
	messages  MessageWriter
	configs   engine.ConfigProvider
	sender    engine.Sender
	scheduler SecondCompensator
	serverIP  string
	logger    *slog.Logger
}

func NewPublisher(messages MessageWriter, configs engine.ConfigProvider, sender engine.Sender, scheduler SecondCompensator, serverIP string, logger *slog.Logger) *Publisher {
	return &Publisher{
		messages:  messages,
		configs:   configs,
		sender:    sender,
		scheduler: scheduler,
		serverIP:  serverIP,
		logger:    logger,
	}
}

// Publish validates the request against configuration, appends the message to
// the log and dispatches it live to every enabled consumer. Persisting the
// message is the acceptance point: dispatch failures do not fail the publish.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if req.AppID == "" || req.Code == "" || req.Body == "" {
		return nil, fmt.Errorf("%w: app_id, code and body are required", engine.ErrInvalidArgument)
	}

	appConfig, err := p.configs.GetAppConfig(ctx, req.AppID)
	if err != nil {
		return nil, fmt.Errorf("loading app config: %w", err)
	}
	if appConfig == nil {
		return nil, fmt.Errorf("%w: unknown app %q", engine.ErrInvalidArgument, req.AppID)
	}

	msgConfig := appConfig.MessageConfig(req.Code)
	if msgConfig == nil || !msgConfig.Enable {
		return nil, fmt.Errorf("%w: message type %q not enabled for app %q", engine.ErrInvalidArgument, req.Code, req.AppID)
	}

	msg := &domain.Message{
		UUID:             domain.NewMessageUUID(),
		AppID:            req.AppID,
		Code:             req.Code,
		MessageID:        req.MessageID,
		Body:             req.Body,
		IP:               req.IP,
		ReceivedServerIP: p.serverIP,
		PushStatus:       domain.PushStatusAlreadyPush,
		NewStatus:        domain.MessageNewStatusDispatched,
		ProcessStatus:    domain.MessageProcessStatusInit,
		CreateTime:       time.Now(),
	}

	if err := p.messages.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	result := &PublishResult{
		UUID:     msg.UUID,
		Dispatch: make(map[string]bool),
	}

	for i := range msgConfig.Callbacks {
		cb := &msgConfig.Callbacks[i]
		if !cb.Enable {
			continue
		}

		if err := p.sender.Send(ctx, msg, nil, cb); err != nil {
			result.Dispatch[cb.Key] = false
			p.logger.Warn("live dispatch failed, scheduling fast-path retry",
				"error", err,
				"app_id", msg.AppID,
				"code", msg.Code,
				"message_uuid", msg.UUID,
				"consumer_id", cb.Key,
			)
			p.scheduler.SecondCompensate(ctx, msg, cb.Key, msgConfig.SecondCompensateSpan)
			result.Scheduled = append(result.Scheduled, cb.Key)
			continue
		}

		result.Dispatch[cb.Key] = true
	}

	return result, nil
}
