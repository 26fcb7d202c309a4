package models

import "time"

// NotificationKind — тип уведомления в очереди relay.notifications.
type NotificationKind string

const (
	// NotificationKeyRedeemed — пользователь активировал ключ доступа.
	NotificationKeyRedeemed NotificationKind = "key_redeemed"
	// NotificationSubscriptionExpired — подписка пользователя истекла.
	NotificationSubscriptionExpired NotificationKind = "subscription_expired"
)

// Notification — сообщение для сервиса уведомлений.
type Notification struct {
	Kind         NotificationKind `json:"kind"`
	UserID       int64            `json:"user_id"`
	Username     string           `json:"username,omitempty"`
	Token        string           `json:"token,omitempty"`
	DurationDays int              `json:"duration_days,omitempty"`
	At           time.Time        `json:"at"`
}
