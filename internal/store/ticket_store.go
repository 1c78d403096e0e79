package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/moutainhigh/messagebus/internal/domain"
)

const ticketColumns = `id, message_uuid, consumer_id, status, new_status, app_id, code, message_id, body, create_time, retry_timeout, retry_count, source`

func scanTicket(row pgx.Row) (*domain.CompensationTicket, error) {
	var t domain.CompensationTicket
	err := row.Scan(
		&t.ID, &t.MessageUUID, &t.ConsumerID, &t.Status, &t.NewStatus,
		&t.AppID, &t.Code, &t.MessageID, &t.Body,
		&t.CreateTime, &t.RetryTimeout, &t.RetryCount, &t.Source,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Insert persists a new compensation ticket.
func (s *PostgresStore) Insert(ctx context.Context, t *domain.CompensationTicket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO compensation_tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, t.ID, t.MessageUUID, t.ConsumerID, t.Status, t.NewStatus,
		t.AppID, t.Code, t.MessageID, t.Body,
		t.CreateTime, t.RetryTimeout, t.RetryCount, t.Source)
	if err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

// GetNeedCompensate returns outstanding tickets of one app/type: primary
// status not yet terminal-success and retry deadline still ahead. Tickets
// past their deadline fall out of the result and are never attempted again.
func (s *PostgresStore) GetNeedCompensate(ctx context.Context, appID, code string) ([]domain.CompensationTicket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM compensation_tickets
		WHERE app_id = $1 AND code = $2
		  AND new_status <> $3
		  AND retry_timeout > NOW()
		ORDER BY create_time
	`, appID, code, domain.CompensateStatusRetryOK)
	if err != nil {
		return nil, fmt.Errorf("querying outstanding tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.CompensationTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}

	return tickets, nil
}

// UpdateTicketRetry writes back a ticket's retry bookkeeping after an
// attempt: its status and attempt counter. The retry deadline is fixed at
// creation and deliberately not part of the update.
func (s *PostgresStore) UpdateTicketRetry(ctx context.Context, t *domain.CompensationTicket) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE compensation_tickets SET new_status = $1, retry_count = $2
		WHERE id = $3
	`, t.NewStatus, t.RetryCount, t.ID)
	if err != nil {
		return fmt.Errorf("updating ticket retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s not found", t.ID)
	}
	return nil
}

// GetTicket returns one ticket by id, or nil when unknown.
func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*domain.CompensationTicket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM compensation_tickets WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns recent tickets with optional filtering for the
// inspection API.
func (s *PostgresStore) ListTickets(ctx context.Context, appID, code, consumerID string, outstanding bool, limit int) ([]domain.CompensationTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM compensation_tickets`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if appID != "" {
		conditions = append(conditions, fmt.Sprintf("app_id = $%d", argIdx))
		args = append(args, appID)
		argIdx++
	}
	if code != "" {
		conditions = append(conditions, fmt.Sprintf("code = $%d", argIdx))
		args = append(args, code)
		argIdx++
	}
	if consumerID != "" {
		conditions = append(conditions, fmt.Sprintf("consumer_id = $%d", argIdx))
		args = append(args, consumerID)
		argIdx++
	}
	if outstanding {
		conditions = append(conditions, fmt.Sprintf("new_status <> $%d", argIdx))
		args = append(args, domain.CompensateStatusRetryOK)
		argIdx++
		conditions = append(conditions, "retry_timeout > NOW()")
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
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.CompensationTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}

	if tickets == nil {
		tickets = []domain.CompensationTicket{}
	}

	return tickets, nil
}
