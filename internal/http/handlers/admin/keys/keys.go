// Package keys — административные обработчики ключей доступа:
// выпуск, список и удаление.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/media-relay/internal/http/response"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

// CreateRequest — параметры нового ключа. DurationDays <= 0 — бессрочный.
type CreateRequest struct {
	DurationDays int    `json:"duration_days" validate:"lte=36500"`
	Notes        string `json:"notes" validate:"max=500"`
}

// Service — реестр ключей.
type Service interface {
	Generate(ctx context.Context, durationDays int, notes string) (models.AccessKey, error)
	List(ctx context.Context) ([]models.AccessKey, error)
	Delete(ctx context.Context, token string) error
}

// Handler обслуживает /keys.
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

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// Create выпускает ключ.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.keys.create")

	var req CreateRequest
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

	key, err := h.service.Generate(r.Context(), req.DurationDays, req.Notes)
	if err != nil {
		log.Error("failed to generate key", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to generate key"))
		return
	}
	log.Info("access key generated", slog.Int("duration_days", key.DurationDays))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(key))
}

// List возвращает все ключи.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.keys.list")

	list, err := h.service.List(r.Context())
	if err != nil {
		log.Error("failed to list keys", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to list keys"))
		return
	}
	if list == nil {
		list = []models.AccessKey{}
	}
	render.JSON(w, r, response.OKWithData(list))
}

// Delete удаляет ключ. Выданная им подписка остаётся в силе.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.keys.delete")

	token := chi.URLParam(r, "token")
	err := h.service.Delete(r.Context(), token)
	switch {
	case errors.Is(err, models.ErrKeyNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("key not found"))
		return
	case err != nil:
		log.Error("failed to delete key", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to delete key"))
		return
	}
	log.Info("access key deleted")
	render.JSON(w, r, response.OK())
}
