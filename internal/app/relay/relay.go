// Package relay собирает основной процесс бота: HTTP-сервер с вебхуком
// и административным API, gRPC-проверку здоровья и обработчик очереди
// обновлений, который проводит сообщения через конвейер загрузки.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/media-relay/internal/cache"
	"github.com/magabrotheeeer/media-relay/internal/chat"
	"github.com/magabrotheeeer/media-relay/internal/config"
	grpchealth "github.com/magabrotheeeer/media-relay/internal/grpc/health"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/health"
	"github.com/magabrotheeeer/media-relay/internal/lib/jwt"
	"github.com/magabrotheeeer/media-relay/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/services/bot"
	"github.com/magabrotheeeer/media-relay/internal/services/entitlement"
	"github.com/magabrotheeeer/media-relay/internal/services/keys"
	"github.com/magabrotheeeer/media-relay/internal/services/pipeline"
	"github.com/magabrotheeeer/media-relay/internal/services/resolver"
	"github.com/magabrotheeeer/media-relay/internal/services/scheduler"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
	"github.com/magabrotheeeer/media-relay/internal/services/transfer"
	"github.com/magabrotheeeer/media-relay/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App — основной процесс бота.
type App struct {
	cfg       *config.Config
	server    *http.Server
	health    *grpchealth.Server
	bot       *bot.Bot
	scheduler *scheduler.Service // только для хранилища в памяти
	store     storage.Storage
	cache     *cache.Cache
	conn      *amqp.Connection
	consumeCh *amqp.Channel
	publishCh *amqp.Channel
	logger    *slog.Logger
}

// New подключает зависимости и собирает сервисы.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.relay.New"
	a := &App{cfg: cfg, logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.store, err = storage.Open(ctx, cfg, true, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.conn, err = rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.consumeCh, err = rabbitmq.SetupChannel(a.conn, cfg.RabbitMQ.Prefetch, rabbitmq.RelayQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.publishCh, err = rabbitmq.SetupChannel(a.conn, cfg.RabbitMQ.Prefetch, rabbitmq.RelayQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	publisher := rabbitmq.NewPublisher(a.publishCh)

	m := metrics.New()
	settingsService := settings.New(a.store, logger)
	engine := entitlement.New(a.store, settingsService, publisher, m, loc, logger)
	keysService := keys.New(a.store, logger)

	links := resolver.New(resolver.Config{
		Endpoint: cfg.Resolver.Endpoint,
		Domains:  cfg.Resolver.Domains,
		Timeout:  cfg.Resolver.Timeout,
	}, &http.Client{}, logger)

	transferEngine, err := transfer.New(transfer.Config{
		ScratchDir:       cfg.ScratchDir,
		ChunkSize:        cfg.ChunkSize,
		ProgressStep:     cfg.ProgressStep,
		ProgressInterval: cfg.ProgressInterval,
	}, links, &http.Client{}, m, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	chatClient := chat.NewClient(cfg.Chat.BaseURL, cfg.Chat.Token, cfg.Chat.Timeout)
	pipelineService := pipeline.New(a.cache, engine, settingsService, links, transferEngine, chatClient, m, logger)
	a.bot = bot.New(engine, settingsService, pipelineService, a.cache, chatClient, logger)

	if cfg.StorageDriver == config.StorageMemory {
		a.scheduler = scheduler.New(engine, loc, cfg.SweepInterval, logger)
	}

	checks := map[string]health.Pinger{"storage": a.store, "cache": a.cache}
	a.health = grpchealth.New(map[string]grpchealth.Pinger{"storage": a.store, "cache": a.cache}, 0, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Routes{
		Publisher:     publisher,
		WebhookSecret: cfg.Chat.WebhookSecret,
		Tokens:        jwt.NewMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Admin:         cfg.Admin,
		Keys:          keysService,
		Settings:      settingsService,
		Users:         engine,
		Stats:         engine,
		Health:        checks,
		Metrics:       m.Handler(),
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Run запускает серверы и обработчик очереди и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.health.ListenAndServe(gctx, a.cfg.AddressGRPC)
	})

	g.Go(func() error {
		err := rabbitmq.Consume(gctx, a.consumeCh, rabbitmq.ConsumerConfig{
			Queue:       rabbitmq.QueueUpdates,
			Concurrency: a.cfg.Consumer.Concurrency,
		}, a.bot.HandleMessage, a.logger)
		if err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("updates delivery channel closed")
		}
		return nil
	})

	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}

	return g.Wait()
}

func (a *App) close() {
	if a.consumeCh != nil {
		if err := a.consumeCh.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.publishCh != nil {
		if err := a.publishCh.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}
