package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/moutainhigh/messagebus/internal/domain"
)

const messageColumns = `uuid, app_id, code, message_id, body, ip, received_server_ip, push_status, new_status, process_status, create_time`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.UUID, &m.AppID, &m.Code, &m.MessageID, &m.Body,
		&m.IP, &m.ReceivedServerIP,
		&m.PushStatus, &m.NewStatus, &m.ProcessStatus, &m.CreateTime,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage appends a published message to the log.
func (s *PostgresStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.UUID, m.AppID, m.Code, m.MessageID, m.Body,
		m.IP, m.ReceivedServerIP,
		m.PushStatus, m.NewStatus, m.ProcessStatus, m.CreateTime)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage returns one message by uuid, or nil when unknown.
func (s *PostgresStore) GetMessage(ctx context.Context, uuid string) (*domain.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE uuid = $1
	`, uuid))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// ListMessages returns recent messages, optionally filtered by app and type.
func (s *PostgresStore) ListMessages(ctx context.Context, appID, code string, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
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
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *m)
	}

	if messages == nil {
		messages = []domain.Message{}
	}

	return messages, nil
}

// GetNeedToCompensate returns messages of one app/type whose creation falls
// inside [now-delay-span, now-delay] and that are not yet fully confirmed.
// The delay keeps messages still inside their live-dispatch grace period out
// of the sweep; the span bounds how far back each pass looks.
func (s *PostgresStore) GetNeedToCompensate(ctx context.Context, appID, code string, delay, span time.Duration) ([]domain.Message, error) {
	now := time.Now()
	upper := now.Add(-delay)
	lower := upper.Add(-span)

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE app_id = $1 AND code = $2
		  AND create_time >= $3 AND create_time <= $4
		  AND process_status <> $5
		ORDER BY create_time
	`, appID, code, lower, upper, domain.MessageProcessStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("querying compensation candidates: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning compensation candidate: %w", err)
		}
		messages = append(messages, *m)
	}

	return messages, nil
}

// UpdateMessageStatus writes the sweep's verdict back onto the message row.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, appID, code, messageUUID string,
	newStatus domain.MessageNewStatus, processStatus domain.MessageProcessStatus) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE messages SET new_status = $1, process_status = $2
		WHERE app_id = $3 AND code = $4 AND uuid = $5
	`, newStatus, processStatus, appID, code, messageUUID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("message %s not found", messageUUID)
	}
	return nil
}
