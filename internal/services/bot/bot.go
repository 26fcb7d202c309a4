// Package bot разбирает входящие сообщения пользователей: команды
// /start, /help, /stats, /subscription, /redeem и ссылки для загрузки.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/models"
	"github.com/magabrotheeeer/media-relay/internal/services/pipeline"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
)

// AwaitKeyTTL — сколько бот ждёт ключ после /redeem без аргумента.
const AwaitKeyTTL = 10 * time.Minute

const helpText = "How to use this bot:\n\n" +
	"1. Send a Terabox link\n" +
	"2. Wait for the video to be downloaded\n" +
	"3. Receive the video in this chat\n\n" +
	"Commands:\n" +
	"/start - Start the bot\n" +
	"/help - Show this message\n" +
	"/stats - Your download statistics\n" +
	"/subscription - Subscription info\n" +
	"/redeem <key> - Activate an access key"

// Entitlements — операции движка прав, нужные боту.
type Entitlements interface {
	Touch(ctx context.Context, userID int64, username, firstName string, now time.Time) error
	Snapshot(ctx context.Context, userID int64, now time.Time) (models.UserSnapshot, error)
	Redeem(ctx context.Context, token string, userID int64, now time.Time) (models.AccessKey, error)
}

// SettingsProvider отдаёт действующие настройки бота.
type SettingsProvider interface {
	Get(ctx context.Context) (models.BotSettings, error)
}

// Pipeline запускает загрузку.
type Pipeline interface {
	Process(ctx context.Context, job pipeline.Job) (pipeline.Outcome, error)
}

// StateStore хранит короткоживущее состояние диалога.
type StateStore interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Messenger отправляет ответы пользователю.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
}

// awaitState — пользователь вызвал /redeem и должен прислать ключ.
type awaitState struct {
	Since time.Time `json:"since"`
}

// Bot обрабатывает обновления.
type Bot struct {
	ent       Entitlements
	settings  SettingsProvider
	pipeline  Pipeline
	state     StateStore
	messenger Messenger
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт Bot.
func New(ent Entitlements, settings SettingsProvider, p Pipeline, state StateStore,
	messenger Messenger, log *slog.Logger) *Bot {
	return &Bot{
		ent:       ent,
		settings:  settings,
		pipeline:  p,
		state:     state,
		messenger: messenger,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessage — обработчик очереди relay.updates.
func (b *Bot) HandleMessage(ctx context.Context, body []byte) error {
	const op = "bot.HandleMessage"
	var upd models.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		b.log.Error("dropping malformed update", sl.Op(op), sl.Err(err))
		return nil
	}
	return b.Handle(ctx, upd)
}

// Handle обрабатывает одно сообщение пользователя.
func (b *Bot) Handle(ctx context.Context, upd models.Update) error {
	const op = "bot.Handle"
	log := b.log.With(sl.Op(op), slog.Int64("user_id", upd.UserID))

	now := b.now()
	if err := b.ent.Touch(ctx, upd.UserID, upd.Username, upd.FirstName, now); err != nil {
		return b.fail(ctx, upd, fmt.Errorf("%s: %w", op, err))
	}
	cfg, err := b.settings.Get(ctx)
	if err != nil {
		return b.fail(ctx, upd, fmt.Errorf("%s: %w", op, err))
	}

	text := strings.TrimSpace(upd.Text)
	if cmd, arg, ok := parseCommand(text); ok {
		log.Debug("command received", slog.String("command", cmd))
		switch cmd {
		case "start":
			return b.reply(ctx, upd, settings.Render(cfg.WelcomeMessage, templateVars(cfg)))
		case "help":
			return b.reply(ctx, upd, helpText)
		case "stats":
			return b.stats(ctx, upd, now)
		case "subscription":
			return b.subscription(ctx, upd, cfg, now)
		case "redeem":
			if arg == "" {
				return b.awaitKey(ctx, upd, now)
			}
			return b.redeem(ctx, upd, cfg, arg, now)
		default:
			return b.reply(ctx, upd, helpText)
		}
	}

	awaiting, err := b.state.Get(ctx, awaitKey(upd.UserID), &awaitState{})
	if err != nil {
		log.Warn("failed to read dialog state", sl.Err(err))
	}
	if awaiting {
		if err := b.state.Invalidate(ctx, awaitKey(upd.UserID)); err != nil {
			log.Warn("failed to clear dialog state", sl.Err(err))
		}
		return b.redeem(ctx, upd, cfg, text, now)
	}

	_, err = b.pipeline.Process(ctx, pipeline.Job{UserID: upd.UserID, ChatID: upd.ChatID, Text: text})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (b *Bot) stats(ctx context.Context, upd models.Update, now time.Time) error {
	const op = "bot.stats"
	snap, err := b.ent.Snapshot(ctx, upd.UserID, now)
	if err != nil {
		return b.fail(ctx, upd, fmt.Errorf("%s: %w", op, err))
	}
	return b.reply(ctx, upd, FormatSnapshot(snap))
}

func (b *Bot) subscription(ctx context.Context, upd models.Update, cfg models.BotSettings, now time.Time) error {
	const op = "bot.subscription"
	snap, err := b.ent.Snapshot(ctx, upd.UserID, now)
	if err != nil {
		return b.fail(ctx, upd, fmt.Errorf("%s: %w", op, err))
	}
	text := settings.Render(cfg.SubscriptionMessage, templateVars(cfg))
	if snap.IsPaid {
		text = "Your subscription: " + formatTier(snap) + "\n\n" + text
	} else {
		text += "\n\nAlready have an access key? Send /redeem <key>"
	}
	return b.reply(ctx, upd, text)
}

func (b *Bot) awaitKey(ctx context.Context, upd models.Update, now time.Time) error {
	const op = "bot.awaitKey"
	if err := b.state.Set(ctx, awaitKey(upd.UserID), awaitState{Since: now}, AwaitKeyTTL); err != nil {
		return b.fail(ctx, upd, fmt.Errorf("%s: %w", op, err))
	}
	return b.reply(ctx, upd, "Please send your access key.")
}

func (b *Bot) redeem(ctx context.Context, upd models.Update, cfg models.BotSettings, token string, now time.Time) error {
	const op = "bot.redeem"
	key, err := b.ent.Redeem(ctx, strings.TrimSpace(token), upd.UserID, now)
	switch {
	case errors.Is(err, models.ErrKeyInvalidOrUsed):
		return b.reply(ctx, upd, pipeline.UserMessage(cfg, err, models.MediaDescriptor{}))
	case err != nil:
		return b.fail(ctx, upd, fmt.Errorf("%s: %w", op, err))
	}

	text := "Access key activated! You now have a lifetime subscription."
	if !key.Lifetime() {
		end := key.Grant(now).ExpiresAt
		text = fmt.Sprintf("Access key activated! Your subscription is valid for %d days, until %s.",
			key.DurationDays, end.Format("2006-01-02 15:04"))
	}
	return b.reply(ctx, upd, text)
}

func (b *Bot) reply(ctx context.Context, upd models.Update, text string) error {
	const op = "bot.reply"
	if _, err := b.messenger.SendText(ctx, upd.ChatID, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// fail сообщает пользователю об общей ошибке и возвращает причину.
func (b *Bot) fail(ctx context.Context, upd models.Update, cause error) error {
	b.log.Error("failed to handle update", slog.Int64("user_id", upd.UserID), sl.Err(cause))
	text := models.DefaultBotSettings().MsgGenericError
	if cfg, err := b.settings.Get(ctx); err == nil {
		text = cfg.MsgGenericError
	}
	if err := b.reply(ctx, upd, text); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func awaitKey(userID int64) string {
	return "await_key:" + strconv.FormatInt(userID, 10)
}

// parseCommand разбирает "/cmd@bot arg".
func parseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, arg, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(arg), cmd != ""
}

func templateVars(cfg models.BotSettings) map[string]string {
	return map[string]string{
		"bot_name":       cfg.BotName,
		"free_limit":     strconv.Itoa(cfg.FreeDailyLimit),
		"owner_username": cfg.OwnerUsername,
	}
}
