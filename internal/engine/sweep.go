package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moutainhigh/messagebus/internal/domain"
)

// Sweep reconciles the message log against delivery-status records and opens
// compensation tickets for consumers that never confirmed delivery.
type Sweep struct {
	configs  ConfigProvider
	messages MessageRepository
	statuses StatusRepository
	tickets  TicketRepository
	logger   *slog.Logger
}

func NewSweep(configs ConfigProvider, messages MessageRepository, statuses StatusRepository, tickets TicketRepository, logger *slog.Logger) *Sweep {
	return &Sweep{
		configs:  configs,
		messages: messages,
		statuses: statuses,
		tickets:  tickets,
		logger:   logger,
	}
}

// CheckToCompensate scans recent under-confirmed messages of one app/type and
// creates tickets for consumers lacking a status record.
//
// The consumer scan short-circuits on the first consumer that already has a
// status record: no ticket is created for it, and the remaining consumers of
// that message are not checked in this pass. The upstream system behaves this
// way (a found record means the message is already being handled elsewhere);
// keep it bit-for-bit when migrating.
func (s *Sweep) CheckToCompensate(ctx context.Context, appID, code string) error {
	appConfig, err := s.configs.GetAppConfig(ctx, appID)
	if err != nil {
		return fmt.Errorf("loading app config: %w", err)
	}
	if appConfig == nil {
		return invalidArgumentf("unknown appId %q", appID)
	}

	msgConfig := appConfig.MessageConfig(code)
	if msgConfig == nil {
		return invalidArgumentf("unknown code %q for appId %q", code, appID)
	}
	if len(msgConfig.Callbacks) == 0 {
		return fmt.Errorf("%w: appId %q, code %q", ErrNoCallbackConfig, appID, code)
	}

	candidates, err := s.messages.GetNeedToCompensate(ctx, appID, code,
		msgConfig.CheckCompensateDelay, msgConfig.CheckCompensateTimeSpan)
	if err != nil {
		return fmt.Errorf("fetching compensation candidates: %w", err)
	}

	s.logger.Info("sweep scan",
		"app_id", appID,
		"code", code,
		"candidates", len(candidates),
	)

	for i := range candidates {
		msg := &candidates[i]
		if err := s.sweepMessage(ctx, msg, msgConfig); err != nil {
			return fmt.Errorf("sweeping message %s: %w", msg.UUID, err)
		}
	}

	return nil
}

// sweepMessage runs one ticket-creation pass for one message, in declared
// consumer order.
func (s *Sweep) sweepMessage(ctx context.Context, msg *domain.Message, cfg *domain.MessageConfig) error {
	var found *domain.DeliveryStatus

	for i := range cfg.Callbacks {
		cb := &cfg.Callbacks[i]

		status, err := s.statuses.GetByMessage(ctx, msg.AppID, msg.UUID, cb.Key)
		if err != nil {
			return fmt.Errorf("reading status for consumer %s: %w", cb.Key, err)
		}
		if status != nil {
			found = status
			break
		}

		ticket := domain.NewTicket(msg, cb, domain.SourceCompensateStation)
		if err := s.tickets.Insert(ctx, ticket); err != nil {
			return fmt.Errorf("inserting ticket for consumer %s: %w", cb.Key, err)
		}

		s.logger.Info("ticket created",
			"app_id", msg.AppID,
			"code", msg.Code,
			"message_uuid", msg.UUID,
			"consumer_id", cb.Key,
		)
	}

	// Pipeline bookkeeping. Best effort only; a later sweep pass recovers
	// from a lost update.
	var (
		newStatus     domain.MessageNewStatus
		processStatus domain.MessageProcessStatus
	)
	switch {
	case found == nil:
		newStatus, processStatus = domain.MessageNewStatusCheckToCompensate, domain.MessageProcessStatusInit
	case found.IsPushOK():
		newStatus, processStatus = domain.MessageNewStatusDispatched, domain.MessageProcessStatusSuccess
	default:
		newStatus, processStatus = domain.MessageNewStatusDispatchToCompensate, domain.MessageProcessStatusCompensate
	}

	if err := s.messages.UpdateMessageStatus(ctx, msg.AppID, msg.Code, msg.UUID, newStatus, processStatus); err != nil {
		s.logger.Error("failed to update message pipeline status",
			"error", err,
			"message_uuid", msg.UUID,
			"new_status", int(newStatus),
		)
	}

	return nil
}
