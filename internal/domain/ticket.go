package domain

import (
	"time"

	"github.com/google/uuid"
)

// CompensateStatus tracks a ticket's retry progress.
type CompensateStatus int

const (
	CompensateStatusNotRetry  CompensateStatus = 1
	CompensateStatusRetrying  CompensateStatus = 2
	CompensateStatusRetryOK   CompensateStatus = 3
	CompensateStatusRetryFail CompensateStatus = 4
)

// CompensateSource identifies which stage discovered the delivery gap.
type CompensateSource int

const (
	SourceReceiveStation    CompensateSource = 1
	SourceDispatchStation   CompensateSource = 2
	SourceCompensateStation CompensateSource = 3
)

// RetryWindow bounds how long a ticket stays eligible for redelivery,
// measured from ticket creation, never from the last attempt.
const RetryWindow = 10 * time.Minute

// CompensationTicket is a pending obligation to redeliver one message to one
// consumer. It denormalizes the message content so redelivery survives loss
// or archival of the original message record.
type CompensationTicket struct {
	ID          string `json:"id"`
	MessageUUID string `json:"message_uuid"`
	ConsumerID  string `json:"consumer_id"`
	// Status is the legacy compatibility field. It is fixed to RetryOK at
	// creation so the cooperating legacy compensator treats the message as
	// already handled and does not redeliver it on its own.
	Status CompensateStatus `json:"status"`
	// NewStatus is this engine's own retry progress.
	NewStatus    CompensateStatus `json:"new_status"`
	AppID        string           `json:"app_id"`
	Code         string           `json:"code"`
	MessageID    string           `json:"message_id"`
	Body         string           `json:"body"`
	CreateTime   time.Time        `json:"create_time"`
	RetryTimeout time.Time        `json:"retry_timeout"`
	RetryCount   int              `json:"retry_count"`
	Source       CompensateSource `json:"source"`
}

// NewTicket builds a ticket for one (message, consumer) pair. The retry
// deadline is fixed at creation and never extended.
func NewTicket(msg *Message, cb *CallbackConfig, source CompensateSource) *CompensationTicket {
	now := time.Now()
	return &CompensationTicket{
		ID:           uuid.NewString(),
		MessageUUID:  msg.UUID,
		ConsumerID:   cb.Key,
		Status:       CompensateStatusRetryOK,
		NewStatus:    CompensateStatusNotRetry,
		AppID:        msg.AppID,
		Code:         msg.Code,
		MessageID:    msg.MessageID,
		Body:         msg.Body,
		CreateTime:   now,
		RetryTimeout: now.Add(RetryWindow),
		RetryCount:   0,
		Source:       source,
	}
}

// Message reconstructs a delivery-ready message view from the ticket's
// denormalized fields. The original message record is deliberately not
// consulted.
func (t *CompensationTicket) Message() *Message {
	return &Message{
		UUID:       t.MessageUUID,
		AppID:      t.AppID,
		Code:       t.Code,
		MessageID:  t.MessageID,
		Body:       t.Body,
		CreateTime: t.CreateTime,
	}
}

// IsRetryTimeout reports whether the retry deadline has passed.
func (t *CompensationTicket) IsRetryTimeout() bool {
	return t.RetryTimeout.Before(time.Now())
}

// IncRetryCount bumps the attempt counter. An unset counter becomes 1.
func (t *CompensationTicket) IncRetryCount() {
	if t.RetryCount <= 0 {
		t.RetryCount = 1
		return
	}
	t.RetryCount++
}
