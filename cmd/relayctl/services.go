package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/services/entitlement"
	"github.com/magabrotheeeer/media-relay/internal/services/keys"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
	"github.com/magabrotheeeer/media-relay/internal/storage"
)

// services — сервисы, с которыми работают команды.
type services struct {
	keys     *keys.Service
	settings *settings.Service
	engine   *entitlement.Engine
	close    func() error
}

// opener открывает сервисы по пути к конфигу.
type opener func(ctx context.Context, configPath string, verbose bool) (*services, error)

func openServices(ctx context.Context, configPath string, verbose bool) (*services, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		return nil, errors.New("config path is not set, use --config or CONFIG_PATH")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}
	log := sl.New(cfg.Env, out)

	store, err := storage.Open(ctx, cfg, false, log)
	if err != nil {
		return nil, err
	}
	return newServices(store, loc, log), nil
}

func newServices(store storage.Storage, loc *time.Location, log *slog.Logger) *services {
	settingsService := settings.New(store, log)
	return &services{
		keys:     keys.New(store, log),
		settings: settingsService,
		engine:   entitlement.New(store, settingsService, nil, metrics.New(), loc, log),
		close:    store.Close,
	}
}
