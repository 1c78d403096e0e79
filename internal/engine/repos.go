package engine

import (
	"context"
	"time"

	"github.com/moutainhigh/messagebus/internal/domain"
)

// ConfigProvider resolves application → message type → consumer callback
// configuration. Backed by Postgres in production, by fakes in tests.
type ConfigProvider interface {
	GetAllAppConfigs(ctx context.Context) ([]domain.AppConfig, error)
	// GetAppConfig returns nil with no error when the app is unknown.
	GetAppConfig(ctx context.Context, appID string) (*domain.AppConfig, error)
}

// MessageRepository is the message-log contract the sweep needs.
type MessageRepository interface {
	// GetNeedToCompensate returns messages of the given app/type created
	// inside [now-delay-span, now-delay] that are not yet confirmed for all
	// consumers.
	GetNeedToCompensate(ctx context.Context, appID, code string, delay, span time.Duration) ([]domain.Message, error)
	UpdateMessageStatus(ctx context.Context, appID, code, messageUUID string,
		newStatus domain.MessageNewStatus, processStatus domain.MessageProcessStatus) error
}

// StatusRepository reads per-consumer delivery evidence.
type StatusRepository interface {
	// GetByMessage returns nil with no error when no record exists for the
	// (app, message, consumer) tuple.
	GetByMessage(ctx context.Context, appID, messageUUID, consumerID string) (*domain.DeliveryStatus, error)
}

// TicketRepository owns compensation tickets.
type TicketRepository interface {
	Insert(ctx context.Context, ticket *domain.CompensationTicket) error
	// GetNeedCompensate returns outstanding tickets: primary status not
	// terminal and retry deadline not yet passed, in insertion order.
	GetNeedCompensate(ctx context.Context, appID, code string) ([]domain.CompensationTicket, error)
}

// Sender performs one outbound delivery attempt. Implemented by the callback
// delivery client in internal/worker.
type Sender interface {
	Send(ctx context.Context, msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig) error
}
