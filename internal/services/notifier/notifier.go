// Package notifier доставляет уведомления из очереди relay.notifications:
// администратору об активации ключа, пользователю об истечении подписки.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

// Messenger отправляет текстовые сообщения.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
}

// Service обрабатывает уведомления.
type Service struct {
	messenger   Messenger
	adminChatID int64
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// New создаёт Service. При adminChatID == 0 уведомления администратору не отправляются.
func New(messenger Messenger, adminChatID int64, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		messenger:   messenger,
		adminChatID: adminChatID,
		metrics:     m,
		log:         log,
	}
}

// HandleMessage — обработчик очереди уведомлений.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	const op = "notifier.HandleMessage"
	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Error("failed to unmarshal notification", sl.Op(op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	var (
		chatID int64
		text   string
	)
	switch n.Kind {
	case models.NotificationKeyRedeemed:
		if s.adminChatID == 0 {
			s.count(n.Kind, "skipped")
			return nil
		}
		chatID, text = s.adminChatID, keyRedeemedText(n)
	case models.NotificationSubscriptionExpired:
		chatID, text = n.UserID, expiredText()
	default:
		s.log.Warn("unknown notification kind", slog.String("kind", string(n.Kind)))
		s.count(n.Kind, "skipped")
		return nil
	}

	if _, err := s.messenger.SendText(ctx, chatID, text); err != nil {
		s.count(n.Kind, "error")
		return fmt.Errorf("%s: %w", op, err)
	}
	s.count(n.Kind, "sent")
	s.log.Info("notification sent", slog.String("kind", string(n.Kind)), slog.Int64("user_id", n.UserID))
	return nil
}

func (s *Service) count(kind models.NotificationKind, result string) {
	s.metrics.NotificationsOut.WithLabelValues(string(kind), result).Inc()
}

func keyRedeemedText(n models.Notification) string {
	user := fmt.Sprintf("%d", n.UserID)
	if n.Username != "" {
		user = "@" + n.Username + " (" + user + ")"
	}
	duration := "lifetime"
	if n.DurationDays > 0 {
		duration = fmt.Sprintf("%d days", n.DurationDays)
	}
	return strings.Join([]string{
		"Access key redeemed",
		"",
		"User: " + user,
		"Key: " + n.Token,
		"Duration: " + duration,
		"Time: " + n.At.UTC().Format(time.DateTime) + " UTC",
	}, "\n")
}

func expiredText() string {
	return "Your subscription has expired. You are back on the free plan.\n\n" +
		"Use /subscription to find out how to renew."
}
