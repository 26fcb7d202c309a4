// Package pipeline связывает движок прав и движок передачи: один запуск на
// сообщение пользователя со ссылкой. Проверка квоты идёт до разбора ссылки,
// учёт скачивания только после успешной доставки.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/models"
	"github.com/magabrotheeeer/media-relay/internal/services/entitlement"
	"github.com/magabrotheeeer/media-relay/internal/services/transfer"
)

const (
	// lockMargin добавляется к таймаутам передачи при выборе TTL блокировки.
	lockMargin = 2 * time.Minute
	// interruptNotifyTimeout ограничивает отправку ответа после отмены запуска.
	interruptNotifyTimeout = 10 * time.Second
)

// Locker не даёт одному пользователю запустить две загрузки одновременно.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Entitlements — часть движка прав, нужная конвейеру.
type Entitlements interface {
	CanDownload(ctx context.Context, userID int64, now time.Time) (entitlement.Decision, error)
	CommitDownload(ctx context.Context, userID int64, rec models.DownloadRecord, now time.Time) (*models.User, error)
}

// SettingsProvider отдаёт действующие настройки бота.
type SettingsProvider interface {
	Get(ctx context.Context) (models.BotSettings, error)
}

// LinkExtractor находит поддерживаемую ссылку в тексте.
type LinkExtractor interface {
	ExtractLink(text string) (string, bool)
}

// Transferer выполняет передачу файла.
type Transferer interface {
	Run(ctx context.Context, req transfer.Request) (transfer.Result, error)
}

// Messenger — исходящие сообщения чат-платформы.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	EditText(ctx context.Context, chatID, messageID int64, text string) error
	SendVideo(ctx context.Context, chatID int64, u transfer.Upload) error
}

// Job — сообщение пользователя, которое нужно обработать.
type Job struct {
	UserID int64
	ChatID int64
	Text   string
}

// Outcome — чем закончился запуск. Err — ошибка из таксономии, о которой
// пользователь уже получил сообщение.
type Outcome struct {
	RunID string
	Stage transfer.Stage
	Err   error
	Media models.MediaDescriptor
	Bytes int64
}

// Service выполняет конвейер.
type Service struct {
	locker    Locker
	ent       Entitlements
	settings  SettingsProvider
	links     LinkExtractor
	transfer  Transferer
	messenger Messenger
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт Service.
func New(locker Locker, ent Entitlements, settings SettingsProvider, links LinkExtractor,
	tr Transferer, messenger Messenger, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		locker:    locker,
		ent:       ent,
		settings:  settings,
		links:     links,
		transfer:  tr,
		messenger: messenger,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Process проводит одно сообщение через конвейер и сообщает пользователю
// результат. Ошибка возвращается, только если сбой инфраструктуры помешал
// обработке или ответу пользователю; ошибки таксономии лежат в Outcome.Err.
func (s *Service) Process(ctx context.Context, job Job) (Outcome, error) {
	const op = "pipeline.Process"
	out := Outcome{RunID: uuid.NewString(), Stage: transfer.StageIdle}
	log := s.log.With(
		sl.Op(op),
		slog.String("run_id", out.RunID),
		slog.Int64("user_id", job.UserID),
	)

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return out, s.abort(ctx, job, models.DefaultBotSettings(), fmt.Errorf("%s: %w", op, err), log)
	}

	lockKey := "pipeline:" + strconv.FormatInt(job.UserID, 10)
	ttl := 2*time.Duration(cfg.TransferTimeoutSeconds)*time.Second + lockMargin
	token, ok, err := s.locker.TryLock(ctx, lockKey, ttl)
	if err != nil {
		return out, s.abort(ctx, job, cfg, fmt.Errorf("%s: %w", op, err), log)
	}
	if !ok {
		return s.reject(ctx, job, cfg, out, models.ErrDownloadInProgress)
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn("failed to release pipeline lock", sl.Err(err))
		}
	}()

	now := s.now()
	decision, err := s.ent.CanDownload(ctx, job.UserID, now)
	if err != nil {
		return out, s.abort(ctx, job, cfg, fmt.Errorf("%s: %w", op, err), log)
	}
	if !decision.Allowed {
		return s.reject(ctx, job, cfg, out, decision.Reason)
	}

	link, ok := s.links.ExtractLink(job.Text)
	if !ok {
		return s.reject(ctx, job, cfg, out, models.ErrInvalidLink)
	}

	s.metrics.InFlight.Inc()
	defer s.metrics.InFlight.Dec()

	statusID, err := s.messenger.SendText(ctx, job.ChatID, "Processing your link...")
	if err != nil {
		log.Warn("failed to send status message", sl.Err(err))
	}
	obs := &statusObserver{messenger: s.messenger, chatID: job.ChatID, messageID: statusID}

	tier := "Free user"
	if decision.Paid {
		tier = "Paid user"
	}
	res, err := s.transfer.Run(ctx, transfer.Request{
		Link: link,
		Limits: transfer.Limits{
			MaxBytes: cfg.MaxDeliverableBytes(),
			Timeout:  time.Duration(cfg.TransferTimeoutSeconds) * time.Second,
		},
		Sink: chatSink{messenger: s.messenger, chatID: job.ChatID},
		Caption: func(md models.MediaDescriptor) string {
			return fmt.Sprintf("%s\n\n%s", md.Name, tier)
		},
		Observer: obs,
	})
	out.Media = res.Media
	out.Bytes = res.Bytes
	if err != nil {
		out.Stage = transfer.StageOf(err)
		out.Err = err
		s.metrics.PipelineRuns.WithLabelValues(string(out.Stage), outcome(err)).Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("pipeline interrupted", slog.String("stage", string(out.Stage)), sl.Err(err))
			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptNotifyTimeout)
			defer cancel()
			if rerr := s.report(notifyCtx, job, obs, UserMessage(cfg, err, res.Media)); rerr != nil {
				log.Warn("failed to notify user about interrupted run", sl.Err(rerr))
			}
			return out, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("pipeline failed", slog.String("stage", string(out.Stage)), sl.Err(err))
		return out, s.report(ctx, job, obs, UserMessage(cfg, err, res.Media))
	}
	out.Stage = transfer.StageDone
	s.metrics.PipelineRuns.WithLabelValues(string(out.Stage), outcome(nil)).Inc()

	u, err := s.ent.CommitDownload(ctx, job.UserID, models.DownloadRecord{
		MediaName:    res.Media.Name,
		ByteSize:     res.Bytes,
		SourceURL:    link,
		DownloadedAt: now,
	}, s.now())
	if err != nil {
		log.Error("failed to commit download", sl.Err(err))
		return out, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("media delivered", slog.String("name", res.Media.Name), slog.Int64("bytes", res.Bytes))

	if err := s.report(ctx, job, obs, "Upload complete."); err != nil {
		log.Warn("failed to update status message", sl.Err(err))
	}
	follow := "You have unlimited downloads."
	if !decision.Paid {
		left := max(cfg.FreeDailyLimit-u.DailyDownloads, 0)
		follow = fmt.Sprintf("Downloads remaining today: %d/%d", left, cfg.FreeDailyLimit)
	}
	if _, err := s.messenger.SendText(ctx, job.ChatID, follow); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// reject сообщает пользователю об отказе до начала передачи.
func (s *Service) reject(ctx context.Context, job Job, cfg models.BotSettings, out Outcome, reason error) (Outcome, error) {
	const op = "pipeline.reject"
	out.Err = reason
	s.metrics.PipelineRuns.WithLabelValues(string(out.Stage), outcome(reason)).Inc()
	if _, err := s.messenger.SendText(ctx, job.ChatID, UserMessage(cfg, reason, models.MediaDescriptor{})); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// abort сообщает об общей ошибке. Состояние пользователя не меняется.
func (s *Service) abort(ctx context.Context, job Job, cfg models.BotSettings, cause error, log *slog.Logger) error {
	log.Error("pipeline aborted", sl.Err(cause))
	s.metrics.PipelineRuns.WithLabelValues(string(transfer.StageIdle), outcome(cause)).Inc()
	if _, err := s.messenger.SendText(ctx, job.ChatID, UserMessage(cfg, cause, models.MediaDescriptor{})); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// report заменяет статусное сообщение итоговым текстом; если статусного
// сообщения нет или его не удалось изменить, отправляет новое.
func (s *Service) report(ctx context.Context, job Job, obs *statusObserver, text string) error {
	if obs.messageID != 0 {
		if err := s.messenger.EditText(ctx, job.ChatID, obs.messageID, text); err == nil {
			return nil
		}
	}
	_, err := s.messenger.SendText(ctx, job.ChatID, text)
	return err
}

// chatSink отдаёт файл в чат пользователя.
type chatSink struct {
	messenger Messenger
	chatID    int64
}

func (c chatSink) SendVideo(ctx context.Context, u transfer.Upload) error {
	return c.messenger.SendVideo(ctx, c.chatID, u)
}

// statusObserver показывает ход передачи, редактируя статусное сообщение.
type statusObserver struct {
	messenger Messenger
	chatID    int64
	messageID int64
	name      string
	size      int64
}

func (o *statusObserver) OnStage(ctx context.Context, stage transfer.Stage, media transfer.MediaInfo) error {
	if o.messageID == 0 {
		return nil
	}
	if media.Name != "" {
		o.name = media.Name
		o.size = media.Size
	}
	var text string
	switch stage {
	case transfer.StageResolving:
		text = "Resolving link..."
	case transfer.StageFetching:
		text = fmt.Sprintf("Downloading %s (%s)...", o.name, formatMB(o.size))
	case transfer.StageDelivering:
		text = fmt.Sprintf("Uploading %s (%s)...", o.name, formatMB(o.size))
	default:
		return nil
	}
	return o.messenger.EditText(ctx, o.chatID, o.messageID, text)
}

func (o *statusObserver) OnProgress(ctx context.Context, p transfer.Progress) error {
	if o.messageID == 0 {
		return nil
	}
	var text string
	if p.Percent >= 0 {
		text = fmt.Sprintf("Downloading %s: %d%%", o.name, p.Percent)
	} else {
		text = fmt.Sprintf("Downloading %s: %s", o.name, formatMB(p.Bytes))
	}
	return o.messenger.EditText(ctx, o.chatID, o.messageID, text)
}
