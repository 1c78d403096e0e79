package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/moutainhigh/messagebus/internal/domain"
)

// GetAppConfig loads one application's full configuration tree, or nil when
// the app is unknown. Callbacks come back in their declared scan order.
func (s *PostgresStore) GetAppConfig(ctx context.Context, appID string) (*domain.AppConfig, error) {
	var app domain.AppConfig
	err := s.pool.QueryRow(ctx, `
		SELECT app_id, dispatch_group FROM app_configs WHERE app_id = $1
	`, appID).Scan(&app.AppID, &app.DispatchGroup)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying app config: %w", err)
	}

	if err := s.loadMessageConfigs(ctx, &app); err != nil {
		return nil, err
	}

	return &app, nil
}

// GetAllAppConfigs loads every application's configuration tree.
func (s *PostgresStore) GetAllAppConfigs(ctx context.Context) ([]domain.AppConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT app_id, dispatch_group FROM app_configs ORDER BY app_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying app configs: %w", err)
	}
	defer rows.Close()

	var apps []domain.AppConfig
	for rows.Next() {
		var app domain.AppConfig
		if err := rows.Scan(&app.AppID, &app.DispatchGroup); err != nil {
			return nil, fmt.Errorf("scanning app config: %w", err)
		}
		apps = append(apps, app)
	}

	for i := range apps {
		if err := s.loadMessageConfigs(ctx, &apps[i]); err != nil {
			return nil, err
		}
	}

	if apps == nil {
		apps = []domain.AppConfig{}
	}

	return apps, nil
}

func (s *PostgresStore) loadMessageConfigs(ctx context.Context, app *domain.AppConfig) error {
	rows, err := s.pool.Query(ctx, `
		SELECT code, enable, need_check_compensate,
		       check_compensate_delay_ms, check_compensate_time_span_ms, second_compensate_span_ms
		FROM message_configs
		WHERE app_id = $1
		ORDER BY code
	`, app.AppID)
	if err != nil {
		return fmt.Errorf("querying message configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.MessageConfig
	for rows.Next() {
		var mc domain.MessageConfig
		var delayMs, spanMs, secondMs int64
		err := rows.Scan(&mc.Code, &mc.Enable, &mc.NeedCheckCompensate, &delayMs, &spanMs, &secondMs)
		if err != nil {
			return fmt.Errorf("scanning message config: %w", err)
		}
		mc.CheckCompensateDelay = time.Duration(delayMs) * time.Millisecond
		mc.CheckCompensateTimeSpan = time.Duration(spanMs) * time.Millisecond
		mc.SecondCompensateSpan = time.Duration(secondMs) * time.Millisecond
		configs = append(configs, mc)
	}
	rows.Close()

	for i := range configs {
		cbs, err := s.loadCallbacks(ctx, app.AppID, configs[i].Code)
		if err != nil {
			return err
		}
		configs[i].Callbacks = cbs
	}

	app.MessageConfigs = configs
	return nil
}

func (s *PostgresStore) loadCallbacks(ctx context.Context, appID, code string) ([]domain.CallbackConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT consumer_key, url, secret_key, enable, rate_limit_per_second
		FROM callback_configs
		WHERE app_id = $1 AND code = $2
		ORDER BY position
	`, appID, code)
	if err != nil {
		return nil, fmt.Errorf("querying callback configs: %w", err)
	}
	defer rows.Close()

	var callbacks []domain.CallbackConfig
	for rows.Next() {
		var cb domain.CallbackConfig
		err := rows.Scan(&cb.Key, &cb.URL, &cb.SecretKey, &cb.Enable, &cb.RateLimitPerSecond)
		if err != nil {
			return nil, fmt.Errorf("scanning callback config: %w", err)
		}
		callbacks = append(callbacks, cb)
	}

	return callbacks, nil
}

// CreateAppConfig inserts a full application configuration tree in one
// transaction. Callbacks without a secret get one generated.
func (s *PostgresStore) CreateAppConfig(ctx context.Context, app *domain.AppConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO app_configs (app_id, dispatch_group)
		VALUES ($1, $2)
	`, app.AppID, app.DispatchGroup)
	if err != nil {
		return fmt.Errorf("inserting app config: %w", err)
	}

	for i := range app.MessageConfigs {
		mc := &app.MessageConfigs[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO message_configs (app_id, code, enable, need_check_compensate,
				check_compensate_delay_ms, check_compensate_time_span_ms, second_compensate_span_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, app.AppID, mc.Code, mc.Enable, mc.NeedCheckCompensate,
			mc.CheckCompensateDelay.Milliseconds(),
			mc.CheckCompensateTimeSpan.Milliseconds(),
			mc.SecondCompensateSpan.Milliseconds())
		if err != nil {
			return fmt.Errorf("inserting message config %s: %w", mc.Code, err)
		}

		for pos := range mc.Callbacks {
			cb := &mc.Callbacks[pos]
			if cb.SecretKey == "" {
				secret, err := generateSecretKey()
				if err != nil {
					return fmt.Errorf("generating secret key: %w", err)
				}
				cb.SecretKey = secret
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO callback_configs (app_id, code, consumer_key, url, secret_key, enable, rate_limit_per_second, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, app.AppID, mc.Code, cb.Key, cb.URL, cb.SecretKey, cb.Enable, cb.RateLimitPerSecond, pos)
			if err != nil {
				return fmt.Errorf("inserting callback %s: %w", cb.Key, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// UpdateCallbackConfig adjusts the mutable knobs of one consumer callback.
func (s *PostgresStore) UpdateCallbackConfig(ctx context.Context, appID, code, consumerKey string,
	url *string, enable *bool, rateLimitPerSecond *int) error {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if url != nil {
		setClauses = append(setClauses, fmt.Sprintf("url = $%d", argIdx))
		args = append(args, *url)
		argIdx++
	}
	if enable != nil {
		setClauses = append(setClauses, fmt.Sprintf("enable = $%d", argIdx))
		args = append(args, *enable)
		argIdx++
	}
	if rateLimitPerSecond != nil {
		setClauses = append(setClauses, fmt.Sprintf("rate_limit_per_second = $%d", argIdx))
		args = append(args, *rateLimitPerSecond)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE callback_configs SET %s
		WHERE app_id = $%d AND code = $%d AND consumer_key = $%d
	`, joinStrings(setClauses, ", "), argIdx, argIdx+1, argIdx+2)
	args = append(args, appID, code, consumerKey)

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating callback config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("callback %s/%s/%s not found", appID, code, consumerKey)
	}

	return nil
}

func generateSecretKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "mbus_" + hex.EncodeToString(bytes), nil
}

func joinStrings(strs []string, sep string) string {
	result := ""
	for i, s := range strs {
		if i > 0 {
			result += sep
		}
		result += s
	}
	return result
}
