package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageNewStatus tracks where in the delivery pipeline a message sits.
type MessageNewStatus int

const (
	// MessageNewStatusDispatched means the message was handed to the live
	// dispatch path (also written back by the sweep when a push-ok status
	// record proves the message is already on its way).
	MessageNewStatusDispatched MessageNewStatus = 1
	// MessageNewStatusCheckToCompensate means the sweep found no delivery
	// evidence at all and opened compensation for the message.
	MessageNewStatusCheckToCompensate MessageNewStatus = 2
	// MessageNewStatusDispatchToCompensate means the message was dispatched
	// but at least one consumer is being compensated.
	MessageNewStatusDispatchToCompensate MessageNewStatus = 3
)

// MessageProcessStatus is the coarse progress marker paired with NewStatus.
type MessageProcessStatus int

const (
	MessageProcessStatusInit       MessageProcessStatus = 0
	MessageProcessStatusSuccess    MessageProcessStatus = 1
	MessageProcessStatusCompensate MessageProcessStatus = 2
	MessageProcessStatusFail       MessageProcessStatus = 3
)

// PushStatus is the legacy publish/push marker. A cooperating legacy system
// still reads this column; AlreadyPush tells it to keep its hands off.
type PushStatus int

const (
	PushStatusNotPush     PushStatus = 0
	PushStatusAlreadyPush PushStatus = 1
)

// Message is a published event owned by one application and message type.
type Message struct {
	UUID             string               `json:"uuid"`
	AppID            string               `json:"app_id"`
	Code             string               `json:"code"`
	MessageID        string               `json:"message_id"`
	Body             string               `json:"body"`
	IP               string               `json:"ip,omitempty"`
	ReceivedServerIP string               `json:"received_server_ip,omitempty"`
	PushStatus       PushStatus           `json:"push_status"`
	NewStatus        MessageNewStatus     `json:"new_status"`
	ProcessStatus    MessageProcessStatus `json:"process_status"`
	CreateTime       time.Time            `json:"create_time"`
}

// AppCode returns the "appId_code" composite used in logs and queue routing.
func (m *Message) AppCode() string {
	return m.AppID + "_" + m.Code
}

// NewMessageUUID generates a message uuid without dashes, matching the
// format the bus has always written.
func NewMessageUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
