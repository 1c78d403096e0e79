package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/moutainhigh/messagebus/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeConfigs struct {
	apps []domain.AppConfig
	err  error
}

func (f *fakeConfigs) GetAllAppConfigs(ctx context.Context) ([]domain.AppConfig, error) {
	return f.apps, f.err
}

func (f *fakeConfigs) GetAppConfig(ctx context.Context, appID string) (*domain.AppConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.apps {
		if f.apps[i].AppID == appID {
			return &f.apps[i], nil
		}
	}
	return nil, nil
}

type statusUpdate struct {
	messageUUID   string
	newStatus     domain.MessageNewStatus
	processStatus domain.MessageProcessStatus
}

type fakeMessages struct {
	candidates []domain.Message
	updates    []statusUpdate
	fetchErr   error
}

func (f *fakeMessages) GetNeedToCompensate(ctx context.Context, appID, code string, delay, span time.Duration) ([]domain.Message, error) {
	return f.candidates, f.fetchErr
}

func (f *fakeMessages) UpdateMessageStatus(ctx context.Context, appID, code, messageUUID string,
	newStatus domain.MessageNewStatus, processStatus domain.MessageProcessStatus) error {
	f.updates = append(f.updates, statusUpdate{messageUUID, newStatus, processStatus})
	return nil
}

type fakeStatuses struct {
	// records is keyed by "messageUUID/consumerID"
	records map[string]*domain.DeliveryStatus
	checked []string
}

func statusKey(messageUUID, consumerID string) string {
	return messageUUID + "/" + consumerID
}

func (f *fakeStatuses) GetByMessage(ctx context.Context, appID, messageUUID, consumerID string) (*domain.DeliveryStatus, error) {
	f.checked = append(f.checked, consumerID)
	return f.records[statusKey(messageUUID, consumerID)], nil
}

type fakeTickets struct {
	inserted    []*domain.CompensationTicket
	outstanding []domain.CompensationTicket
	insertErr   error
	fetchErr    error
}

func (f *fakeTickets) Insert(ctx context.Context, ticket *domain.CompensationTicket) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, ticket)
	return nil
}

func (f *fakeTickets) GetNeedCompensate(ctx context.Context, appID, code string) ([]domain.CompensationTicket, error) {
	return f.outstanding, f.fetchErr
}

type sendCall struct {
	messageUUID string
	consumerID  string
	ticketID    string
}

type fakeSender struct {
	calls []sendCall
	// failFor maps consumer keys to a forced delivery error
	failFor map[string]error
}

func (f *fakeSender) Send(ctx context.Context, msg *domain.Message, ticket *domain.CompensationTicket, cb *domain.CallbackConfig) error {
	call := sendCall{messageUUID: msg.UUID, consumerID: cb.Key}
	if ticket != nil {
		call.ticketID = ticket.ID
	}
	f.calls = append(f.calls, call)
	if err, ok := f.failFor[cb.Key]; ok {
		return err
	}
	return nil
}

var errDeliveryBoom = errors.New("connection refused")

func appConfigFixture(appID, code string, callbacks ...string) domain.AppConfig {
	cbs := make([]domain.CallbackConfig, 0, len(callbacks))
	for _, key := range callbacks {
		cbs = append(cbs, domain.CallbackConfig{
			Key:    key,
			URL:    fmt.Sprintf("http://consumer.local/%s", key),
			Enable: true,
		})
	}
	return domain.AppConfig{
		AppID:         appID,
		DispatchGroup: "group-1",
		MessageConfigs: []domain.MessageConfig{{
			Code:                    code,
			Enable:                  true,
			NeedCheckCompensate:     true,
			CheckCompensateDelay:    30 * time.Second,
			CheckCompensateTimeSpan: 10 * time.Minute,
			SecondCompensateSpan:    5 * time.Second,
			Callbacks:               cbs,
		}},
	}
}
