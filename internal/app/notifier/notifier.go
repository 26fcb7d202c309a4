// Package notifier собирает процесс уведомлений: читает relay.notifications
// и отправляет сообщения администратору и пользователям.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/media-relay/internal/chat"
	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	notifierservice "github.com/magabrotheeeer/media-relay/internal/services/notifier"
)

// App — процесс уведомлений.
type App struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	notifier *notifierservice.Service
	cfg      *config.Config
	logger   *slog.Logger
}

// New подключается к RabbitMQ и создаёт сервис уведомлений.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.notifier.New"
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Prefetch, rabbitmq.RelayQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	chatClient := chat.NewClient(cfg.Chat.BaseURL, cfg.Chat.Token, cfg.Chat.Timeout)
	return &App{
		conn:     conn,
		ch:       ch,
		notifier: notifierservice.New(chatClient, cfg.Admin.ChatID, metrics.New(), logger),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Run обрабатывает очередь до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	err := rabbitmq.Consume(ctx, a.ch, rabbitmq.ConsumerConfig{
		Queue:       rabbitmq.QueueNotifications,
		Concurrency: a.cfg.Consumer.Concurrency,
		Requeue:     true,
	}, a.notifier.HandleMessage, a.logger)
	if err != nil {
		return err
	}
	if ctx.Err() == nil {
		return errors.New("notifications delivery channel closed")
	}
	a.logger.Info("notifier shutting down gracefully")
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
}
