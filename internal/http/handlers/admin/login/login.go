// Package login выдаёт JWT администратору по имени и паролю из конфигурации.
package login

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/media-relay/internal/http/response"
	"github.com/magabrotheeeer/media-relay/internal/lib/jwt"
	"github.com/magabrotheeeer/media-relay/internal/lib/password"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

// Request — учётные данные администратора.
type Request struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenMaker выпускает токены.
type TokenMaker interface {
	GenerateToken(username, role string) (string, error)
}

// Handler проверяет учётные данные.
type Handler struct {
	log          *slog.Logger
	tokens       TokenMaker
	username     string
	passwordHash string
	validate     *validator.Validate
}

// New создаёт Handler для единственного администратора.
func New(log *slog.Logger, tokens TokenMaker, username, passwordHash string) *Handler {
	return &Handler{
		log:          log,
		tokens:       tokens,
		username:     username,
		passwordHash: passwordHash,
		validate:     validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.login"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
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

	if h.passwordHash == "" || req.Username != h.username {
		log.Warn("login rejected", slog.String("username", req.Username))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid credentials"))
		return
	}
	if err := password.Compare(h.passwordHash, req.Password); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			log.Error("failed to compare password", sl.Err(err))
		}
		log.Warn("login rejected", slog.String("username", req.Username))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid credentials"))
		return
	}

	token, err := h.tokens.GenerateToken(req.Username, jwt.RoleAdmin)
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	log.Info("admin logged in", slog.String("username", req.Username))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"token": token,
		"role":  jwt.RoleAdmin,
	}))
}
