package relay

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/admin/keys"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/admin/login"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/admin/settings"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/admin/stats"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/admin/users"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/health"
	"github.com/magabrotheeeer/media-relay/internal/http/handlers/updates"
	"github.com/magabrotheeeer/media-relay/internal/http/middlewarectx"
	"github.com/magabrotheeeer/media-relay/internal/lib/jwt"
)

// Ограничение частоты запросов к административному API.
const (
	adminRate  = rate.Limit(10)
	adminBurst = 20
)

// Routes — зависимости HTTP-маршрутов.
type Routes struct {
	Publisher     updates.Publisher
	WebhookSecret string
	Tokens        *jwt.Maker
	Admin         config.Admin
	Keys          keys.Service
	Settings      settings.Service
	Users         users.Service
	Stats         stats.Service
	Health        map[string]health.Pinger
	Metrics       http.Handler
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Routes) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук чат-платформы, проверяется секретным заголовком
		r.Post("/updates", updates.New(logger, d.Publisher, d.WebhookSecret).ServeHTTP)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewarectx.RateLimit(adminRate, adminBurst, logger))
			r.Post("/login", login.New(logger, d.Tokens, d.Admin.Username, d.Admin.PasswordHash).ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.AdminOnly(d.Tokens, logger))

				keysHandler := keys.New(logger, d.Keys)
				r.Post("/keys", keysHandler.Create)
				r.Get("/keys", keysHandler.List)
				r.Delete("/keys/{token}", keysHandler.Delete)

				settingsHandler := settings.New(logger, d.Settings)
				r.Get("/settings", settingsHandler.List)
				r.Put("/settings", settingsHandler.Set)

				usersHandler := users.New(logger, d.Users)
				r.Get("/users/{id}", usersHandler.Show)
				r.Post("/users/{id}/subscription", usersHandler.Grant)

				r.Get("/stats", stats.New(logger, d.Stats).ServeHTTP)
			})
		})
	})

	r.Get("/health", health.New(logger, d.Health).ServeHTTP)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
}
