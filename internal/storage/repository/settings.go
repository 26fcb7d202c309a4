package repository

import (
	"context"
	"fmt"
)

// Settings возвращает все сохранённые настройки бота.
func (s *Storage) Settings(ctx context.Context) (map[string]string, error) {
	const op = "storage.Settings"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM bot_settings`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SetSetting сохраняет значение настройки.
func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	const op = "storage.SetSetting"
	if err := ctxErr(ctx, op); err != nil {
		return err
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO bot_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
