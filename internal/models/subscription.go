package models

import "time"

// SubscriptionKind различает варианты подписки.
type SubscriptionKind int

const (
	// SubscriptionNone — бесплатный тариф.
	SubscriptionNone SubscriptionKind = iota
	// SubscriptionLifetime — бессрочная подписка.
	SubscriptionLifetime
	// SubscriptionExpiring — подписка до ExpiresAt.
	SubscriptionExpiring
)

// Subscription — явное представление подписки: нет, бессрочная или до даты.
// Заменяет пару is_paid/subscription_end с «магическим» отсутствием даты.
type Subscription struct {
	Kind      SubscriptionKind
	ExpiresAt time.Time // заполнено только для SubscriptionExpiring
}

// Free возвращает пустую подписку.
func Free() Subscription { return Subscription{} }

// Lifetime возвращает бессрочную подписку.
func Lifetime() Subscription { return Subscription{Kind: SubscriptionLifetime} }

// ExpiresAt возвращает подписку, действующую до t.
func ExpiresAt(t time.Time) Subscription {
	return Subscription{Kind: SubscriptionExpiring, ExpiresAt: t}
}

// GrantForDays переводит срок в днях в подписку: days <= 0 — бессрочная.
func GrantForDays(days int, from time.Time) Subscription {
	if days <= 0 {
		return Lifetime()
	}
	return ExpiresAt(from.AddDate(0, 0, days))
}

// ActiveAt сообщает, действует ли подписка в момент now.
func (s Subscription) ActiveAt(now time.Time) bool {
	switch s.Kind {
	case SubscriptionLifetime:
		return true
	case SubscriptionExpiring:
		return now.Before(s.ExpiresAt)
	default:
		return false
	}
}

// Expired сообщает, что платная подписка с датой окончания уже истекла.
func (s Subscription) Expired(now time.Time) bool {
	return s.Kind == SubscriptionExpiring && !now.Before(s.ExpiresAt)
}

// End возвращает дату окончания или nil для бесплатной и бессрочной подписки.
func (s Subscription) End() *time.Time {
	if s.Kind != SubscriptionExpiring {
		return nil
	}
	t := s.ExpiresAt
	return &t
}
