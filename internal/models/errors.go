package models

import "errors"

// Ошибки конвейера и движка прав. Каждая соответствует отдельному сообщению пользователю.
var (
	ErrInvalidLink        = errors.New("invalid link")
	ErrResolutionFailed   = errors.New("resolution failed")
	ErrResolutionTimeout  = errors.New("resolution timeout")
	ErrTooLarge           = errors.New("media too large")
	ErrFetchFailed        = errors.New("fetch failed")
	ErrFetchTimeout       = errors.New("fetch timeout")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrQuotaExceeded      = errors.New("daily limit reached")
	ErrKeyInvalidOrUsed   = errors.New("access key invalid or already used")
	ErrDownloadInProgress = errors.New("download already in progress")
)

// Ошибки хранилища и администрирования.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrKeyNotFound    = errors.New("access key not found")
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidSetting = errors.New("invalid setting value")
)
