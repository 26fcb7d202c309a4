// Package settings — административные обработчики настроек бота.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/media-relay/internal/http/response"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/models"
	settingsservice "github.com/magabrotheeeer/media-relay/internal/services/settings"
)

// SetRequest — новое значение одной настройки.
type SetRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// Service читает и изменяет настройки.
type Service interface {
	List(ctx context.Context) ([]settingsservice.Entry, error)
	Set(ctx context.Context, key, value string) error
}

// Handler обслуживает /settings.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// List возвращает все настройки с текущими значениями.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.settings.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	entries, err := h.service.List(r.Context())
	if err != nil {
		log.Error("failed to list settings", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to list settings"))
		return
	}
	render.JSON(w, r, response.OKWithData(entries))
}

// Set меняет одну настройку. Изменение действует со следующего чтения.
func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.settings.set"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request"))
		return
	}

	err := h.service.Set(r.Context(), req.Key, req.Value)
	switch {
	case errors.Is(err, models.ErrUnknownSetting):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown setting "+req.Key))
		return
	case errors.Is(err, models.ErrInvalidSetting):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("failed to update setting", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to update setting"))
		return
	}
	log.Info("setting updated", slog.String("key", req.Key))
	render.JSON(w, r, response.OKWithData(settingsservice.Entry{Key: req.Key, Value: req.Value}))
}
