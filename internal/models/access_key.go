package models

import "time"

// AccessKey — одноразовый ключ, выдающий подписку при активации.
type AccessKey struct {
	Token        string     `json:"token"`
	DurationDays int        `json:"duration_days"` // <= 0 — бессрочная подписка
	Notes        string     `json:"notes"`
	CreatedAt    time.Time  `json:"created_at"`
	UsedBy       *int64     `json:"used_by,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

// Used сообщает, был ли ключ уже активирован.
func (k AccessKey) Used() bool {
	return k.UsedBy != nil
}

// Grant возвращает подписку, которую ключ выдаёт при активации в момент now.
func (k AccessKey) Grant(now time.Time) Subscription {
	return GrantForDays(k.DurationDays, now)
}

// Lifetime сообщает, что ключ выдаёт бессрочную подписку.
func (k AccessKey) Lifetime() bool {
	return k.DurationDays <= 0
}
