// Package memory — хранилище в памяти процесса с тем же набором методов,
// что и repository.Storage. Используется при storage_driver: memory и в тестах.
// Все операции сериализуются одной блокировкой, поэтому изменения пользователя
// и активация ключей атомарны.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// Storage хранит пользователей, ключи и настройки в map.
type Storage struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	keys     map[string]models.AccessKey
	settings map[string]string
	seq      int64
}

// New возвращает пустое хранилище.
func New() *Storage {
	return &Storage{
		users:    make(map[int64]*models.User),
		keys:     make(map[string]models.AccessKey),
		settings: make(map[string]string),
	}
}

// Ping всегда успешен.
func (s *Storage) Ping(context.Context) error { return nil }

// Close ничего не делает.
func (s *Storage) Close() error { return nil }

// GetUser возвращает копию пользователя или models.ErrUserNotFound.
func (s *Storage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	const op = "memory.GetUser"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	return u.Clone(), nil
}

// MutateUser применяет fn к копии пользователя и сохраняет её, если fn сообщила об изменениях.
func (s *Storage) MutateUser(ctx context.Context, userID int64, now time.Time,
	fn func(u *models.User) (bool, error)) (*models.User, error) {
	const op = "memory.MutateUser"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID, now).Clone()
	changed, err := fn(u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		s.saveLocked(u)
	}
	return u.Clone(), nil
}

func (s *Storage) userLocked(userID int64, now time.Time) *models.User {
	u, ok := s.users[userID]
	if !ok {
		u = models.NewUser(userID, now)
		s.users[userID] = u
	}
	return u
}

func (s *Storage) saveLocked(u *models.User) {
	for i := range u.History {
		if u.History[i].ID == 0 {
			s.seq++
			u.History[i].ID = s.seq
		}
	}
	s.users[u.ID] = u.Clone()
}

// ResetDailyDownloads обнуляет счётчики всех пользователей с другой датой.
func (s *Storage) ResetDailyDownloads(ctx context.Context, today time.Time) (int64, error) {
	const op = "memory.ResetDailyDownloads"
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, u := range s.users {
		if u.RollDay(today) {
			n++
		}
	}
	return n, nil
}

// ExpireSubscriptions переводит истёкшие подписки на бесплатный тариф.
func (s *Storage) ExpireSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "memory.ExpireSubscriptions"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.User
	for _, u := range s.users {
		if u.Subscription.Expired(now) {
			u.Subscription = models.Free()
			expired = append(expired, u.Clone())
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

// UserStats считает пользователей с действующей подпиской.
func (s *Storage) UserStats(ctx context.Context, now time.Time) (models.UserStats, error) {
	const op = "memory.UserStats"
	if err := ctx.Err(); err != nil {
		return models.UserStats{}, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.UserStats
	for _, u := range s.users {
		stats.Total++
		if u.Subscription.ActiveAt(now) {
			stats.Paid++
		}
	}
	stats.Free = stats.Total - stats.Paid
	return stats, nil
}
