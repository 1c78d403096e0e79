package store

import (
	"context"
	"fmt"

	"github.com/moutainhigh/messagebus/internal/domain"
)

// DeliveryMetrics holds aggregated delivery-assurance statistics.
type DeliveryMetrics struct {
	TotalMessages      int     `json:"total_messages"`
	ConfirmedDelivered int     `json:"confirmed_delivered"`
	RefusedDeliveries  int     `json:"refused_deliveries"`
	ConfirmationRate   float64 `json:"confirmation_rate"`
	OpenTickets        int     `json:"open_tickets"`
	ClosedTickets      int     `json:"closed_tickets"`
	ExpiredTickets     int     `json:"expired_tickets"`
	ConfiguredApps     int     `json:"configured_apps"`
}

// GetDeliveryMetrics aggregates the engine's read-model in a handful of
// counting queries.
func (s *PostgresStore) GetDeliveryMetrics(ctx context.Context) (*DeliveryMetrics, error) {
	var m DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1) AS confirmed,
			COUNT(*) FILTER (WHERE status = $2) AS refused
		FROM delivery_status
	`, domain.DeliveryStatusPushOK, domain.DeliveryStatusPushFail).Scan(
		&m.ConfirmedDelivered, &m.RefusedDeliveries,
	)
	if err != nil {
		return nil, fmt.Errorf("querying delivery status counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE new_status <> $1 AND retry_timeout > NOW()) AS open,
			COUNT(*) FILTER (WHERE new_status = $1) AS closed,
			COUNT(*) FILTER (WHERE new_status <> $1 AND retry_timeout <= NOW()) AS expired
		FROM compensation_tickets
	`, domain.CompensateStatusRetryOK).Scan(&m.OpenTickets, &m.ClosedTickets, &m.ExpiredTickets)
	if err != nil {
		return nil, fmt.Errorf("querying ticket counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&m.TotalMessages)
	if err != nil {
		return nil, fmt.Errorf("querying message count: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM app_configs`).Scan(&m.ConfiguredApps)
	if err != nil {
		return nil, fmt.Errorf("querying app count: %w", err)
	}

	if total := m.ConfirmedDelivered + m.RefusedDeliveries; total > 0 {
		m.ConfirmationRate = float64(m.ConfirmedDelivered) / float64(total) * 100
	}

	return &m, nil
}
