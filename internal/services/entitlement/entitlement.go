// Package entitlement — движок прав на скачивание: бесплатная дневная квота,
// платная подписка с ленивым истечением и активация ключей доступа.
//
// Каждое изменение пользователя выполняется через Store.MutateUser, то есть
// в транзакции под блокировкой строки: конкурирующие запросы одного
// пользователя не теряют инкременты, а истечение подписки применяется ровно
// один раз. Календарные дни считаются в часовом поясе loc.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

// Store — хранилище пользователей и ключей с атомарными операциями.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	MutateUser(ctx context.Context, userID int64, now time.Time, fn func(u *models.User) (bool, error)) (*models.User, error)
	RedeemKey(ctx context.Context, token string, userID int64, now time.Time,
		grant func(u *models.User, key models.AccessKey) error) (models.AccessKey, *models.User, error)
	ResetDailyDownloads(ctx context.Context, today time.Time) (int64, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error)
	UserStats(ctx context.Context, now time.Time) (models.UserStats, error)
}

// SettingsProvider отдаёт действующие настройки бота.
type SettingsProvider interface {
	Get(ctx context.Context) (models.BotSettings, error)
}

// Publisher публикует уведомления в очередь.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Decision — результат проверки перед скачиванием.
type Decision struct {
	Allowed   bool
	Reason    error // models.ErrQuotaExceeded при отказе
	Paid      bool
	Used      int // скачиваний сегодня
	FreeLimit int
}

// Engine применяет правила квоты и подписки.
type Engine struct {
	store     Store
	settings  SettingsProvider
	publisher Publisher
	metrics   *metrics.Metrics
	loc       *time.Location
	log       *slog.Logger
}

// New создаёт Engine. loc задаёт границы календарного дня.
func New(store Store, settings SettingsProvider, publisher Publisher, m *metrics.Metrics,
	loc *time.Location, log *slog.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		store:     store,
		settings:  settings,
		publisher: publisher,
		metrics:   m,
		loc:       loc,
		log:       log,
	}
}

// expire понижает пользователя до бесплатного тарифа, если подписка истекла.
func expire(u *models.User, now time.Time) bool {
	if !u.Subscription.Expired(now) {
		return false
	}
	u.Subscription = models.Free()
	return true
}

// withEntitlement снимает истёкшую подписку, затем передаёт в fn пользователя
// и признак действующей подписки. fn сообщает, изменил ли он пользователя.
// Уведомление об истечении отправляется после сохранения.
func (e *Engine) withEntitlement(ctx context.Context, userID int64, now time.Time,
	fn func(u *models.User, paid bool) bool) (*models.User, bool, error) {
	var downgraded, paid bool
	u, err := e.store.MutateUser(ctx, userID, now, func(u *models.User) (bool, error) {
		downgraded = expire(u, now)
		paid = u.Subscription.ActiveAt(now)
		changed := false
		if fn != nil {
			changed = fn(u, paid)
		}
		return downgraded || changed, nil
	})
	if err != nil {
		return nil, false, err
	}
	if downgraded {
		e.onExpired(u, now)
	}
	return u, paid, nil
}

// IsEntitled сообщает, действует ли платная подписка. Истёкшая подписка
// при этом снимается и сохраняется.
func (e *Engine) IsEntitled(ctx context.Context, userID int64, now time.Time) (bool, error) {
	const op = "entitlement.IsEntitled"
	_, paid, err := e.withEntitlement(ctx, userID, now, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return paid, nil
}

// CanDownload решает, можно ли пользователю скачать файл сейчас.
// Для бесплатного тарифа при смене дня счётчик обнуляется и сохраняется.
func (e *Engine) CanDownload(ctx context.Context, userID int64, now time.Time) (Decision, error) {
	const op = "entitlement.CanDownload"
	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	u, paid, err := e.withEntitlement(ctx, userID, now, func(u *models.User, paid bool) bool {
		if paid {
			return false
		}
		return u.RollDay(now.In(e.loc))
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	d := Decision{
		Paid:      paid,
		Used:      u.DailyDownloads,
		FreeLimit: cfg.FreeDailyLimit,
	}
	if d.Paid || u.DailyDownloads < cfg.FreeDailyLimit {
		d.Allowed = true
		return d, nil
	}
	d.Reason = models.ErrQuotaExceeded
	e.metrics.QuotaDenials.Inc()
	return d, nil
}

// CommitDownload учитывает успешно доставленный файл: увеличивает дневной
// счётчик бесплатного пользователя и добавляет запись в историю.
func (e *Engine) CommitDownload(ctx context.Context, userID int64, rec models.DownloadRecord, now time.Time) (*models.User, error) {
	const op = "entitlement.CommitDownload"
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = now
	}
	u, _, err := e.withEntitlement(ctx, userID, now, func(u *models.User, paid bool) bool {
		if !paid {
			u.RollDay(now.In(e.loc))
			u.DailyDownloads++
		}
		u.TotalDownloads++
		u.AppendHistory(rec)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// Redeem активирует ключ для пользователя. Неизвестный или уже использованный
// ключ даёт models.ErrKeyInvalidOrUsed; из конкурирующих попыток успешна одна.
func (e *Engine) Redeem(ctx context.Context, token string, userID int64, now time.Time) (models.AccessKey, error) {
	const op = "entitlement.Redeem"
	key, u, err := e.store.RedeemKey(ctx, token, userID, now, func(u *models.User, key models.AccessKey) error {
		u.Subscription = key.Grant(now)
		return nil
	})
	switch {
	case errors.Is(err, models.ErrKeyInvalidOrUsed):
		e.metrics.Redemptions.WithLabelValues("rejected").Inc()
		return models.AccessKey{}, fmt.Errorf("%s: %w", op, err)
	case err != nil:
		e.metrics.Redemptions.WithLabelValues("error").Inc()
		return models.AccessKey{}, fmt.Errorf("%s: %w", op, err)
	}
	e.metrics.Redemptions.WithLabelValues("accepted").Inc()
	e.log.Info("access key redeemed", slog.Int64("user_id", userID), slog.Int("duration_days", key.DurationDays))

	e.notify(models.Notification{
		Kind:         models.NotificationKeyRedeemed,
		UserID:       userID,
		Username:     u.Username,
		Token:        key.Token,
		DurationDays: key.DurationDays,
		At:           now,
	})
	return key, nil
}

// Touch регистрирует пользователя и обновляет его имя.
func (e *Engine) Touch(ctx context.Context, userID int64, username, firstName string, now time.Time) error {
	const op = "entitlement.Touch"
	_, err := e.store.MutateUser(ctx, userID, now, func(u *models.User) (bool, error) {
		if u.Username == username && u.FirstName == firstName {
			return false, nil
		}
		u.Username = username
		u.FirstName = firstName
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Snapshot возвращает состояние пользователя после применения ленивых правил.
func (e *Engine) Snapshot(ctx context.Context, userID int64, now time.Time) (models.UserSnapshot, error) {
	const op = "entitlement.Snapshot"
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return models.UserSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return models.UserSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	u, _, err := e.withEntitlement(ctx, userID, now, func(u *models.User, _ bool) bool {
		return u.RollDay(now.In(e.loc))
	})
	if err != nil {
		return models.UserSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	return snapshot(u, cfg.FreeDailyLimit, now), nil
}

func snapshot(u *models.User, freeLimit int, now time.Time) models.UserSnapshot {
	s := models.UserSnapshot{
		UserID:          u.ID,
		Username:        u.Username,
		FirstName:       u.FirstName,
		IsPaid:          u.Subscription.ActiveAt(now),
		Lifetime:        u.Subscription.Kind == models.SubscriptionLifetime,
		SubscriptionEnd: u.Subscription.End(),
		DailyDownloads:  u.DailyDownloads,
		FreeLimit:       freeLimit,
		TotalDownloads:  u.TotalDownloads,
	}
	if !u.LastDownloadDate.IsZero() {
		d := u.LastDownloadDate
		s.LastDownloadDate = &d
	}
	if s.IsPaid {
		s.DownloadsRemaining = -1
	} else {
		s.DownloadsRemaining = max(freeLimit-u.DailyDownloads, 0)
	}
	return s
}

// Grant выдаёт подписку вручную. При действующей подписке с датой срок
// продлевается от её окончания, иначе отсчитывается от now. days <= 0 —
// бессрочная подписка; бессрочная подписка сроком не сокращается.
func (e *Engine) Grant(ctx context.Context, userID int64, days int, now time.Time) (*models.User, error) {
	const op = "entitlement.Grant"
	u, err := e.store.MutateUser(ctx, userID, now, func(u *models.User) (bool, error) {
		switch {
		case days <= 0:
			u.Subscription = models.Lifetime()
		case u.Subscription.Kind == models.SubscriptionLifetime:
			return false, nil
		case u.Subscription.ActiveAt(now):
			u.Subscription = models.GrantForDays(days, u.Subscription.ExpiresAt)
		default:
			u.Subscription = models.GrantForDays(days, now)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("subscription granted", slog.Int64("user_id", userID), slog.Int("days", days))
	return u, nil
}

// Stats возвращает число пользователей по тарифам.
func (e *Engine) Stats(ctx context.Context, now time.Time) (models.UserStats, error) {
	const op = "entitlement.Stats"
	stats, err := e.store.UserStats(ctx, now)
	if err != nil {
		return models.UserStats{}, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

// ResetDailyQuotas заранее применяет правило смены дня ко всем пользователям.
func (e *Engine) ResetDailyQuotas(ctx context.Context, now time.Time) (int64, error) {
	const op = "entitlement.ResetDailyQuotas"
	n, err := e.store.ResetDailyDownloads(ctx, now.In(e.loc))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	e.metrics.DailyResets.Add(float64(n))
	return n, nil
}

// ExpireSubscriptions снимает все истёкшие подписки и уведомляет пользователей.
func (e *Engine) ExpireSubscriptions(ctx context.Context, now time.Time) (int, error) {
	const op = "entitlement.ExpireSubscriptions"
	expired, err := e.store.ExpireSubscriptions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	for _, u := range expired {
		e.onExpired(u, now)
	}
	return len(expired), nil
}

func (e *Engine) onExpired(u *models.User, now time.Time) {
	e.metrics.ExpiredSubs.Inc()
	e.log.Info("subscription expired", slog.Int64("user_id", u.ID))
	e.notify(models.Notification{
		Kind:     models.NotificationSubscriptionExpired,
		UserID:   u.ID,
		Username: u.Username,
		At:       now,
	})
}

// notify публикует уведомление. Ошибка публикации не отменяет уже сохранённое изменение.
func (e *Engine) notify(n models.Notification) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(rabbitmq.RouteNotifications, n); err != nil {
		e.log.Error("failed to publish notification", slog.String("kind", string(n.Kind)), sl.Err(err))
	}
}
