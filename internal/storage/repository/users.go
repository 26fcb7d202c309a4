package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/lib/day"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

const selectUserForUpdate = `
	SELECT id, username, first_name, subscription_kind, subscription_end,
	       daily_downloads, last_download_date, total_downloads, created_at
	FROM users
	WHERE id = $1
	FOR UPDATE`

const selectUser = `
	SELECT id, username, first_name, subscription_kind, subscription_end,
	       daily_downloads, last_download_date, total_downloads, created_at
	FROM users
	WHERE id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u        models.User
		kind     int16
		subEnd   sql.NullTime
		lastDate sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &kind, &subEnd,
		&u.DailyDownloads, &lastDate, &u.TotalDownloads, &u.CreatedAt); err != nil {
		return nil, err
	}
	switch models.SubscriptionKind(kind) {
	case models.SubscriptionLifetime:
		u.Subscription = models.Lifetime()
	case models.SubscriptionExpiring:
		u.Subscription = models.ExpiresAt(subEnd.Time)
	default:
		u.Subscription = models.Free()
	}
	if lastDate.Valid {
		u.LastDownloadDate = lastDate.Time
	}
	return &u, nil
}

func queryHistory(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, userID int64) ([]models.DownloadRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, media_name, byte_size, source_url, downloaded_at
		FROM (
			SELECT id, media_name, byte_size, source_url, downloaded_at
			FROM download_history
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		) h
		ORDER BY id`, userID, models.HistoryLimit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var history []models.DownloadRecord
	for rows.Next() {
		var rec models.DownloadRecord
		if err := rows.Scan(&rec.ID, &rec.MediaName, &rec.ByteSize, &rec.SourceURL, &rec.DownloadedAt); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

// GetUser возвращает пользователя с историей или models.ErrUserNotFound.
func (s *Storage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.GetUser"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}

	u, err := scanUser(s.DB.QueryRowContext(ctx, selectUser, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if u.History, err = queryHistory(ctx, s.DB, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// MutateUser блокирует строку пользователя (создавая её при первом обращении),
// применяет fn и сохраняет результат, если fn сообщила об изменениях.
// Возвращает итоговое состояние пользователя.
func (s *Storage) MutateUser(ctx context.Context, userID int64, now time.Time,
	fn func(u *models.User) (bool, error)) (*models.User, error) {
	const op = "storage.MutateUser"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}

	var result *models.User
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := lockUser(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		changed, err := fn(u)
		if err != nil {
			return err
		}
		if changed {
			if err := saveUser(ctx, tx, u); err != nil {
				return err
			}
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// lockUser создаёт пользователя при отсутствии и берёт блокировку строки.
func lockUser(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) (*models.User, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, created_at) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, userID, now); err != nil {
		return nil, err
	}
	u, err := scanUser(tx.QueryRowContext(ctx, selectUserForUpdate, userID))
	if err != nil {
		return nil, err
	}
	if u.History, err = queryHistory(ctx, tx, userID); err != nil {
		return nil, err
	}
	return u, nil
}

func saveUser(ctx context.Context, tx *sql.Tx, u *models.User) error {
	var (
		subEnd   any
		lastDate any
	)
	if end := u.Subscription.End(); end != nil {
		subEnd = *end
	}
	if !u.LastDownloadDate.IsZero() {
		lastDate = day.Of(u.LastDownloadDate)
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET username = $2, first_name = $3, subscription_kind = $4, subscription_end = $5,
		    daily_downloads = $6, last_download_date = $7, total_downloads = $8
		WHERE id = $1`,
		u.ID, u.Username, u.FirstName, int16(u.Subscription.Kind), subEnd,
		u.DailyDownloads, lastDate, u.TotalDownloads)
	if err != nil {
		return err
	}

	inserted := false
	for i := range u.History {
		rec := &u.History[i]
		if rec.ID != 0 {
			continue
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO download_history (user_id, media_name, byte_size, source_url, downloaded_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			u.ID, rec.MediaName, rec.ByteSize, rec.SourceURL, rec.DownloadedAt).Scan(&rec.ID); err != nil {
			return err
		}
		inserted = true
	}
	if !inserted {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM download_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM download_history WHERE user_id = $1 ORDER BY id DESC LIMIT $2
		)`, u.ID, models.HistoryLimit)
	return err
}

// ResetDailyDownloads обнуляет дневные счётчики всех пользователей,
// у которых дата последней загрузки отличается от today.
func (s *Storage) ResetDailyDownloads(ctx context.Context, today time.Time) (int64, error) {
	const op = "storage.ResetDailyDownloads"
	if err := ctxErr(ctx, op); err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE users
		SET daily_downloads = 0, last_download_date = $1::date
		WHERE last_download_date IS DISTINCT FROM $1::date`, day.Of(today))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ExpireSubscriptions переводит на бесплатный тариф всех, чья подписка истекла
// к моменту now, и возвращает только тех, кого перевёл этот вызов.
func (s *Storage) ExpireSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "storage.ExpireSubscriptions"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		UPDATE users
		SET subscription_kind = $1, subscription_end = NULL
		WHERE subscription_kind = $2 AND subscription_end <= $3
		RETURNING id, username, first_name`,
		int16(models.SubscriptionNone), int16(models.SubscriptionExpiring), now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var expired []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		expired = append(expired, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return expired, nil
}

// UserStats считает пользователей с действующей подпиской на момент now.
func (s *Storage) UserStats(ctx context.Context, now time.Time) (models.UserStats, error) {
	const op = "storage.UserStats"
	if err := ctxErr(ctx, op); err != nil {
		return models.UserStats{}, err
	}

	var stats models.UserStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE subscription_kind = $1
		                           OR (subscription_kind = $2 AND subscription_end > $3))
		FROM users`,
		int16(models.SubscriptionLifetime), int16(models.SubscriptionExpiring), now).
		Scan(&stats.Total, &stats.Paid)
	if err != nil {
		return models.UserStats{}, fmt.Errorf("%s: %w", op, err)
	}
	stats.Free = stats.Total - stats.Paid
	return stats, nil
}
