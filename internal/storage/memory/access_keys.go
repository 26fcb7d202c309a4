package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// CreateKey сохраняет ключ. Повторный токен — ошибка.
func (s *Storage) CreateKey(ctx context.Context, key models.AccessKey) error {
	const op = "memory.CreateKey"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.Token]; ok {
		return fmt.Errorf("%s: duplicate token", op)
	}
	s.keys[key.Token] = key
	return nil
}

// ListKeys возвращает ключи, новые первыми.
func (s *Storage) ListKeys(ctx context.Context) ([]models.AccessKey, error) {
	const op = "memory.ListKeys"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]models.AccessKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].Token < keys[j].Token
	})
	return keys, nil
}

// DeleteKey удаляет ключ или возвращает models.ErrKeyNotFound.
func (s *Storage) DeleteKey(ctx context.Context, token string) error {
	const op = "memory.DeleteKey"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[token]; !ok {
		return fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	delete(s.keys, token)
	return nil
}

// RedeemKey помечает ключ использованным и применяет grant к пользователю атомарно.
func (s *Storage) RedeemKey(ctx context.Context, token string, userID int64, now time.Time,
	grant func(u *models.User, key models.AccessKey) error) (models.AccessKey, *models.User, error) {
	const op = "memory.RedeemKey"
	if err := ctx.Err(); err != nil {
		return models.AccessKey{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[token]
	if !ok || key.Used() {
		return models.AccessKey{}, nil, fmt.Errorf("%s: %w", op, models.ErrKeyInvalidOrUsed)
	}
	usedBy, usedAt := userID, now
	key.UsedBy = &usedBy
	key.UsedAt = &usedAt

	u := s.userLocked(userID, now).Clone()
	if err := grant(u, key); err != nil {
		return models.AccessKey{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	s.saveLocked(u)
	s.keys[token] = key
	return key, u.Clone(), nil
}
