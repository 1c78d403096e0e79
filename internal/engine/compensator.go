package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moutainhigh/messagebus/internal/domain"
)

// TicketOutcome is the per-ticket result of one compensation pass. Failures
// are isolated: one ticket's outcome never affects another's processing.
type TicketOutcome struct {
	TicketID    string `json:"ticket_id"`
	MessageUUID string `json:"message_uuid"`
	ConsumerID  string `json:"consumer_id"`
	Delivered   bool   `json:"delivered"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
}

// Compensator drains outstanding tickets and drives the delivery client.
type Compensator struct {
	configs ConfigProvider
	tickets TicketRepository
	sender  Sender
	logger  *slog.Logger
}

func NewCompensator(configs ConfigProvider, tickets TicketRepository, sender Sender, logger *slog.Logger) *Compensator {
	return &Compensator{
		configs: configs,
		tickets: tickets,
		sender:  sender,
		logger:  logger,
	}
}

// Compensate retries delivery for every outstanding ticket of one app/type.
// It returns one outcome per ticket; a failing ticket never aborts the batch.
func (c *Compensator) Compensate(ctx context.Context, appID, code string) ([]TicketOutcome, error) {
	appConfig, err := c.configs.GetAppConfig(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("loading app config: %w", err)
	}
	if appConfig == nil {
		return nil, invalidArgumentf("unknown appId %q", appID)
	}

	msgConfig := appConfig.MessageConfig(code)
	if msgConfig == nil {
		return nil, invalidArgumentf("unknown code %q for appId %q", code, appID)
	}

	batch, err := c.tickets.GetNeedCompensate(ctx, appID, code)
	if err != nil {
		return nil, fmt.Errorf("fetching outstanding tickets: %w", err)
	}

	c.logger.Info("compensate pass",
		"app_id", appID,
		"code", code,
		"tickets", len(batch),
	)

	outcomes := make([]TicketOutcome, 0, len(batch))
	for i := range batch {
		ticket := &batch[i]
		outcome := c.compensateTicket(ctx, ticket, msgConfig)
		if outcome.Err != nil {
			outcome.Error = outcome.Err.Error()
			c.logger.Error("ticket compensation failed",
				"error", outcome.Err,
				"app_id", appID,
				"code", code,
				"ticket_id", ticket.ID,
				"message_id", ticket.MessageID,
			)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// compensateTicket performs one redelivery attempt for one ticket. The
// message view is rebuilt from the ticket's denormalized fields so redelivery
// does not depend on the message log still existing.
func (c *Compensator) compensateTicket(ctx context.Context, ticket *domain.CompensationTicket, cfg *domain.MessageConfig) TicketOutcome {
	outcome := TicketOutcome{
		TicketID:    ticket.ID,
		MessageUUID: ticket.MessageUUID,
		ConsumerID:  ticket.ConsumerID,
	}

	cb := cfg.Callback(ticket.ConsumerID)
	if cb == nil {
		// Ticket references a consumer that configuration no longer knows.
		// Left in place for operational remediation.
		outcome.Err = fmt.Errorf("%w: ticket %s references unknown consumer %q",
			ErrConfigInconsistency, ticket.ID, ticket.ConsumerID)
		return outcome
	}

	msg := ticket.Message()
	if err := c.sender.Send(ctx, msg, ticket, cb); err != nil {
		outcome.Err = fmt.Errorf("delivering to consumer %s: %w", ticket.ConsumerID, err)
		return outcome
	}

	outcome.Delivered = true
	return outcome
}
