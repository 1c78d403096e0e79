package domain

import "time"

// Delivery status outcomes. Presence of a push-ok record for a
// (app, message, consumer) tuple is the sole authoritative signal that no
// further delivery attempts are owed to that consumer.
const (
	DeliveryStatusPushOK   = "push_ok"
	DeliveryStatusPushFail = "push_fail"
)

// DeliveryStatus records that a specific consumer received (or refused) a
// specific message. Records are append-only evidence and never mutated.
type DeliveryStatus struct {
	ID          string    `json:"id"`
	AppID       string    `json:"app_id"`
	MessageUUID string    `json:"message_uuid"`
	ConsumerID  string    `json:"consumer_id"`
	Status      string    `json:"status"`
	CreateTime  time.Time `json:"create_time"`
}

// IsPushOK reports whether this record proves a successful delivery.
func (s *DeliveryStatus) IsPushOK() bool {
	return s.Status == DeliveryStatusPushOK
}
