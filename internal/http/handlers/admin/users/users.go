// Package users — административные обработчики пользователей: просмотр
// состояния и ручная выдача подписки.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/media-relay/internal/http/response"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

// GrantRequest — срок подписки в днях; Days <= 0 — бессрочная.
type GrantRequest struct {
	Days int `json:"days"`
}

// Service — операции движка прав для администратора.
type Service interface {
	Snapshot(ctx context.Context, userID int64, now time.Time) (models.UserSnapshot, error)
	Grant(ctx context.Context, userID int64, days int, now time.Time) (*models.User, error)
}

// Handler обслуживает /users.
type Handler struct {
	log     *slog.Logger
	service Service
	now     func() time.Time
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, now: time.Now}
}

// Show возвращает состояние пользователя.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.users.show"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, ok := userID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(r.Context(), id, h.now())
	switch {
	case errors.Is(err, models.ErrUserNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to read user", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to read user"))
		return
	}
	render.JSON(w, r, response.OKWithData(snap))
}

// Grant выдаёт подписку вручную.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.users.grant"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	now := h.now()
	if _, err := h.service.Grant(r.Context(), id, req.Days, now); err != nil {
		log.Error("failed to grant subscription", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to grant subscription"))
		return
	}
	snap, err := h.service.Snapshot(r.Context(), id, now)
	if err != nil {
		log.Error("failed to read user", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to read user"))
		return
	}
	log.Info("subscription granted", slog.Int64("user_id", id), slog.Int("days", req.Days))
	render.JSON(w, r, response.OKWithData(snap))
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user id"))
		return 0, false
	}
	return id, true
}
