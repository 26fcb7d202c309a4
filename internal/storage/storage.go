// Package storage выбирает реализацию хранилища по конфигурации: PostgreSQL
// с миграциями или хранилище в памяти процесса.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/migrations"
	"github.com/magabrotheeeer/media-relay/internal/services/entitlement"
	"github.com/magabrotheeeer/media-relay/internal/services/keys"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
	"github.com/magabrotheeeer/media-relay/internal/storage/memory"
	"github.com/magabrotheeeer/media-relay/internal/storage/repository"
)

// Параметры ожидания готовности базы.
const (
	readyRetries = 10
	readyDelay   = 3 * time.Second
)

// Storage — всё, что процессы бота требуют от хранилища.
type Storage interface {
	entitlement.Store
	settings.Store
	keys.Store
	Ping(ctx context.Context) error
	Close() error
}

// Open открывает хранилище, выбранное в cfg.StorageDriver. Для PostgreSQL
// применяет миграции, если migrate = true, и ждёт появления схемы.
func Open(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (Storage, error) {
	const op = "storage.Open"
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage, state is lost on restart")
		return memory.New(), nil
	case config.StoragePostgres:
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.StorageDriver)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if migrate {
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := waitForDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range readyRetries {
		if err = repository.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}
