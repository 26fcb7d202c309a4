package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// CreateKey сохраняет новый ключ доступа.
func (s *Storage) CreateKey(ctx context.Context, key models.AccessKey) error {
	const op = "storage.CreateKey"
	if err := ctxErr(ctx, op); err != nil {
		return err
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO access_keys (token, duration_days, notes, created_at)
		VALUES ($1, $2, $3, $4)`,
		key.Token, key.DurationDays, key.Notes, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListKeys возвращает все ключи, новые первыми.
func (s *Storage) ListKeys(ctx context.Context) ([]models.AccessKey, error) {
	const op = "storage.ListKeys"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT token, duration_days, notes, created_at, used_by, used_at
		FROM access_keys
		ORDER BY created_at DESC, token`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var keys []models.AccessKey
	for rows.Next() {
		var (
			k      models.AccessKey
			usedBy sql.NullInt64
			usedAt sql.NullTime
		)
		if err := rows.Scan(&k.Token, &k.DurationDays, &k.Notes, &k.CreatedAt, &usedBy, &usedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if usedBy.Valid {
			k.UsedBy = &usedBy.Int64
		}
		if usedAt.Valid {
			k.UsedAt = &usedAt.Time
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// DeleteKey удаляет ключ. Выданная им подписка остаётся у пользователя.
func (s *Storage) DeleteKey(ctx context.Context, token string) error {
	const op = "storage.DeleteKey"
	if err := ctxErr(ctx, op); err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM access_keys WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	return nil
}

// RedeemKey в одной транзакции помечает неиспользованный ключ как
// использованный пользователем userID и применяет к пользователю grant.
// Если ключ неизвестен или уже использован, возвращает models.ErrKeyInvalidOrUsed
// и ничего не меняет.
func (s *Storage) RedeemKey(ctx context.Context, token string, userID int64, now time.Time,
	grant func(u *models.User, key models.AccessKey) error) (models.AccessKey, *models.User, error) {
	const op = "storage.RedeemKey"
	if err := ctxErr(ctx, op); err != nil {
		return models.AccessKey{}, nil, err
	}

	var (
		key  models.AccessKey
		user *models.User
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE access_keys
			SET used_by = $2, used_at = $3
			WHERE token = $1 AND used_by IS NULL
			RETURNING token, duration_days, notes, created_at`,
			token, userID, now).Scan(&key.Token, &key.DurationDays, &key.Notes, &key.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrKeyInvalidOrUsed
		}
		if err != nil {
			return err
		}
		key.UsedBy = &userID
		key.UsedAt = &now

		u, err := lockUser(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if err := grant(u, key); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return models.AccessKey{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	return key, user, nil
}
