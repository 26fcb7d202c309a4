package models

// BotSettings — настройки бота, изменяемые администратором во время работы.
// Хранятся построчно (ключ/значение) и собираются в типизированную структуру
// при каждом чтении. Тег setting задаёт ключ, тег validate — ограничения.
type BotSettings struct {
	BotName                string `json:"bot_name" setting:"bot_name" validate:"required"`
	FreeDailyLimit         int    `json:"free_daily_limit" setting:"free_daily_limit" validate:"gte=0"`
	MaxDeliverableSizeMB   int    `json:"max_deliverable_size_mb" setting:"max_deliverable_size_mb" validate:"gt=0"`
	TransferTimeoutSeconds int    `json:"transfer_timeout_seconds" setting:"transfer_timeout_seconds" validate:"gt=0"`
	OwnerUsername          string `json:"owner_username" setting:"owner_username"`

	WelcomeMessage      string `json:"welcome_message" setting:"welcome_message" validate:"required"`
	SubscriptionMessage string `json:"subscription_message" setting:"subscription_message" validate:"required"`

	MsgInvalidLink       string `json:"msg_invalid_link" setting:"msg_invalid_link" validate:"required"`
	MsgResolutionFailed  string `json:"msg_resolution_failed" setting:"msg_resolution_failed" validate:"required"`
	MsgResolutionTimeout string `json:"msg_resolution_timeout" setting:"msg_resolution_timeout" validate:"required"`
	MsgTooLarge          string `json:"msg_too_large" setting:"msg_too_large" validate:"required"`
	MsgFetchFailed       string `json:"msg_fetch_failed" setting:"msg_fetch_failed" validate:"required"`
	MsgFetchTimeout      string `json:"msg_fetch_timeout" setting:"msg_fetch_timeout" validate:"required"`
	MsgDeliveryFailed    string `json:"msg_delivery_failed" setting:"msg_delivery_failed" validate:"required"`
	MsgQuotaExceeded     string `json:"msg_quota_exceeded" setting:"msg_quota_exceeded" validate:"required"`
	MsgKeyInvalid        string `json:"msg_key_invalid" setting:"msg_key_invalid" validate:"required"`
	MsgInProgress        string `json:"msg_in_progress" setting:"msg_in_progress" validate:"required"`
	MsgGenericError      string `json:"msg_generic_error" setting:"msg_generic_error" validate:"required"`
}

// DefaultBotSettings возвращает настройки, действующие до первой записи администратора.
func DefaultBotSettings() BotSettings {
	return BotSettings{
		BotName:                "Terabox Downloader Pro",
		FreeDailyLimit:         5,
		MaxDeliverableSizeMB:   2000,
		TransferTimeoutSeconds: 300,
		OwnerUsername:          "bot_owner",

		WelcomeMessage: "Welcome to {bot_name}!\n\nSend me a Terabox link to download videos.\n" +
			"Free users: {free_limit} downloads per day\nPaid users: Unlimited downloads",
		SubscriptionMessage: "No automatic payment system.\n\nTo purchase a subscription, contact the bot owner: @{owner_username}\n\n" +
			"Subscription durations:\n- Daily: 24 hours\n- Monthly: 30 days\n- Yearly: 365 days",

		MsgInvalidLink:       "Could not find a supported link. Please send a valid Terabox URL.",
		MsgResolutionFailed:  "Could not extract video from this link. Please check the URL and try again.",
		MsgResolutionTimeout: "The link service did not answer in time. Please try again later.",
		MsgTooLarge:          "Video is too large ({size_mb} MB). Maximum allowed size is {limit_mb} MB.",
		MsgFetchFailed:       "Error downloading video. Please try again later.",
		MsgFetchTimeout:      "Download timed out. Please try again later.",
		MsgDeliveryFailed:    "Could not upload the video. Please try again later.",
		MsgQuotaExceeded:     "Daily limit reached ({free_limit} videos/day for free users). Upgrade to paid for unlimited downloads!",
		MsgKeyInvalid:        "Invalid or already used access key. Please check and try again or contact support.",
		MsgInProgress:        "Your previous download is still running. Please wait for it to finish.",
		MsgGenericError:      "An error occurred. Please try again later or contact support.",
	}
}

// MaxDeliverableBytes возвращает предел размера в байтах.
func (s BotSettings) MaxDeliverableBytes() int64 {
	return int64(s.MaxDeliverableSizeMB) * BytesPerMB
}

// BytesPerMB — единица, в которой задаётся max_deliverable_size_mb.
const BytesPerMB = 1024 * 1024
