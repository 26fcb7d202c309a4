// Package scheduler собирает процесс планировщика: полуночный сброс дневных
// квот и периодическое снятие истёкших подписок.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/services/entitlement"
	schedulerservice "github.com/magabrotheeeer/media-relay/internal/services/scheduler"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
	"github.com/magabrotheeeer/media-relay/internal/storage"
)

// App представляет приложение планировщика.
type App struct {
	scheduler *schedulerservice.Service
	store     storage.Storage
	conn      *amqp.Connection
	ch        *amqp.Channel
	logger    *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.scheduler.New"
	if cfg.StorageDriver == config.StorageMemory {
		return nil, fmt.Errorf("%s: in-memory storage is not shared between processes, the relay runs the schedule itself", op)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Prefetch, rabbitmq.RelayQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store, err := storage.Open(ctx, cfg, false, logger)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	engine := entitlement.New(store, settings.New(store, logger), rabbitmq.NewPublisher(ch), metrics.New(), loc, logger)
	return &App{
		scheduler: schedulerservice.New(engine, loc, cfg.SweepInterval, logger),
		store:     store,
		conn:      conn,
		ch:        ch,
		logger:    logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := a.scheduler.Run(ctx)

	a.logger.Info("shutting down scheduler service")
	closeResources(a.ch, a.conn, a.logger)
	if cerr := a.store.Close(); cerr != nil {
		a.logger.Error("failed to close storage", sl.Err(cerr))
	}
	return err
}
