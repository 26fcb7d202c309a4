// Package keys — выпуск, просмотр и удаление одноразовых ключей доступа.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// tokenBytes — длина случайной части ключа.
const tokenBytes = 16

// Store — реестр ключей.
type Store interface {
	CreateKey(ctx context.Context, key models.AccessKey) error
	ListKeys(ctx context.Context) ([]models.AccessKey, error)
	DeleteKey(ctx context.Context, token string) error
}

// Service управляет ключами доступа.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New создаёт Service.
func New(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Generate выпускает новый ключ. durationDays <= 0 — бессрочная подписка.
func (s *Service) Generate(ctx context.Context, durationDays int, notes string) (models.AccessKey, error) {
	const op = "keys.Generate"
	token, err := newToken()
	if err != nil {
		return models.AccessKey{}, fmt.Errorf("%s: %w", op, err)
	}
	key := models.AccessKey{
		Token:        token,
		DurationDays: durationDays,
		Notes:        notes,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return models.AccessKey{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("access key generated", slog.Int("duration_days", durationDays), slog.Bool("lifetime", key.Lifetime()))
	return key, nil
}

// List возвращает все ключи.
func (s *Service) List(ctx context.Context) ([]models.AccessKey, error) {
	const op = "keys.List"
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// Delete удаляет ключ. Уже выданная подписка не отзывается.
func (s *Service) Delete(ctx context.Context, token string) error {
	const op = "keys.Delete"
	if err := s.store.DeleteKey(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("access key deleted")
	return nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
