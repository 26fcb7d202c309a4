// Package updates принимает вебхук чат-платформы и ставит текстовые
// сообщения в очередь relay.updates. Обработка идёт асинхронно, поэтому
// платформа получает ответ сразу.
package updates

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/media-relay/internal/chat"
	"github.com/magabrotheeeer/media-relay/internal/http/response"
	"github.com/magabrotheeeer/media-relay/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

// SecretHeader — заголовок с секретом вебхука.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Publisher публикует сообщения в очередь.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Handler обрабатывает вебхук.
type Handler struct {
	log       *slog.Logger
	publisher Publisher
	secret    string
}

// New создаёт Handler. Пустой secret отключает проверку заголовка.
func New(log *slog.Logger, publisher Publisher, secret string) *Handler {
	return &Handler{
		log:       log,
		publisher: publisher,
		secret:    secret,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.updates"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		log.Warn("webhook secret mismatch")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid webhook secret"))
		return
	}

	var upd chat.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
		// Повтор не поможет: платформа получает 200, обновление отбрасывается.
		log.Warn("dropping undecodable update", sl.Err(err))
		render.JSON(w, r, response.OK())
		return
	}

	msg, ok := upd.ToModel()
	if !ok {
		log.Debug("ignoring non-text update", slog.Int64("update_id", upd.UpdateID))
		render.JSON(w, r, response.OK())
		return
	}

	if err := h.publisher.Publish(rabbitmq.RouteUpdates, msg); err != nil {
		log.Error("failed to enqueue update", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("failed to enqueue update"))
		return
	}
	log.Debug("update enqueued", slog.Int64("update_id", msg.UpdateID), slog.Int64("user_id", msg.UserID))
	render.JSON(w, r, response.OK())
}
