package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/moutainhigh/messagebus/internal/domain"
)

// InsertStatus appends one delivery evidence record. Records are never
// updated afterwards.
func (s *PostgresStore) InsertStatus(ctx context.Context, status *domain.DeliveryStatus) error {
	if status.ID == "" {
		status.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_status (id, app_id, message_uuid, consumer_id, status, create_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, status.ID, status.AppID, status.MessageUUID, status.ConsumerID, status.Status, status.CreateTime)
	if err != nil {
		return fmt.Errorf("inserting delivery status: %w", err)
	}
	return nil
}

// GetByMessage returns the evidence record for one (app, message, consumer)
// tuple, or nil when no consumer has reported yet. Newest record wins when a
// consumer reported more than once.
func (s *PostgresStore) GetByMessage(ctx context.Context, appID, messageUUID, consumerID string) (*domain.DeliveryStatus, error) {
	var rec domain.DeliveryStatus
	err := s.pool.QueryRow(ctx, `
		SELECT id, app_id, message_uuid, consumer_id, status, create_time
		FROM delivery_status
		WHERE app_id = $1 AND message_uuid = $2 AND consumer_id = $3
		ORDER BY create_time DESC
		LIMIT 1
	`, appID, messageUUID, consumerID).Scan(
		&rec.ID, &rec.AppID, &rec.MessageUUID, &rec.ConsumerID, &rec.Status, &rec.CreateTime,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery status: %w", err)
	}
	return &rec, nil
}

// ListStatuses returns recent delivery evidence, optionally filtered.
func (s *PostgresStore) ListStatuses(ctx context.Context, appID, messageUUID, consumerID string, limit int) ([]domain.DeliveryStatus, error) {
	query := `SELECT id, app_id, message_uuid, consumer_id, status, create_time FROM delivery_status`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if appID != "" {
		conditions = append(conditions, fmt.Sprintf("app_id = $%d", argIdx))
		args = append(args, appID)
		argIdx++
	}
	if messageUUID != "" {
		conditions = append(conditions, fmt.Sprintf("message_uuid = $%d", argIdx))
		args = append(args, messageUUID)
		argIdx++
	}
	if consumerID != "" {
		conditions = append(conditions, fmt.Sprintf("consumer_id = $%d", argIdx))
		args = append(args, consumerID)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE "
		for i, c := range conditions {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}

	query += " ORDER BY create_time DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery statuses: %w", err)
	}
	defer rows.Close()

	var statuses []domain.DeliveryStatus
	for rows.Next() {
		var rec domain.DeliveryStatus
		err := rows.Scan(&rec.ID, &rec.AppID, &rec.MessageUUID, &rec.ConsumerID, &rec.Status, &rec.CreateTime)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery status: %w", err)
		}
		statuses = append(statuses, rec)
	}

	if statuses == nil {
		statuses = []domain.DeliveryStatus{}
	}

	return statuses, nil
}
