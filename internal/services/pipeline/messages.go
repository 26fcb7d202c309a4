package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/magabrotheeeer/media-relay/internal/models"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
)

// UserMessage подбирает текст для пользователя по ошибке из таксономии.
// Неизвестные ошибки получают общий текст.
func UserMessage(cfg models.BotSettings, err error, media models.MediaDescriptor) string {
	vars := map[string]string{
		"bot_name":       cfg.BotName,
		"free_limit":     strconv.Itoa(cfg.FreeDailyLimit),
		"limit_mb":       strconv.Itoa(cfg.MaxDeliverableSizeMB),
		"size_mb":        fmt.Sprintf("%.1f", media.SizeMB()),
		"owner_username": cfg.OwnerUsername,
	}

	var tmpl string
	switch {
	case errors.Is(err, models.ErrInvalidLink):
		tmpl = cfg.MsgInvalidLink
	case errors.Is(err, models.ErrResolutionTimeout):
		tmpl = cfg.MsgResolutionTimeout
	case errors.Is(err, models.ErrResolutionFailed):
		tmpl = cfg.MsgResolutionFailed
	case errors.Is(err, models.ErrTooLarge):
		tmpl = cfg.MsgTooLarge
	case errors.Is(err, models.ErrFetchTimeout):
		tmpl = cfg.MsgFetchTimeout
	case errors.Is(err, models.ErrFetchFailed):
		tmpl = cfg.MsgFetchFailed
	case errors.Is(err, models.ErrDeliveryFailed):
		tmpl = cfg.MsgDeliveryFailed
	case errors.Is(err, models.ErrQuotaExceeded):
		tmpl = cfg.MsgQuotaExceeded
	case errors.Is(err, models.ErrKeyInvalidOrUsed):
		tmpl = cfg.MsgKeyInvalid
	case errors.Is(err, models.ErrDownloadInProgress):
		tmpl = cfg.MsgInProgress
	default:
		tmpl = cfg.MsgGenericError
	}
	return settings.Render(tmpl, vars)
}

// outcome возвращает метку исхода для метрик.
func outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, models.ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, models.ErrResolutionTimeout):
		return "resolution_timeout"
	case errors.Is(err, models.ErrResolutionFailed):
		return "resolution_failed"
	case errors.Is(err, models.ErrTooLarge):
		return "too_large"
	case errors.Is(err, models.ErrFetchTimeout):
		return "fetch_timeout"
	case errors.Is(err, models.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, models.ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, models.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, models.ErrDownloadInProgress):
		return "in_progress"
	default:
		return "error"
	}
}

func formatMB(size int64) string {
	if size <= 0 {
		return "unknown size"
	}
	return fmt.Sprintf("%.1f MB", float64(size)/models.BytesPerMB)
}
