// Package models содержит доменную модель пользователя бота: состояние
// подписки, дневную квоту бесплатных скачиваний и историю загрузок.
// Структуры используются в бизнес‑логике и при работе с хранилищем.
package models

import (
	"time"

	"github.com/magabrotheeeer/media-relay/internal/lib/day"
)

// HistoryLimit — максимальное число записей в истории загрузок пользователя.
const HistoryLimit = 100

// User представляет пользователя бота и его право на скачивание.
type User struct {
	ID               int64            // Идентификатор пользователя в чат-платформе
	Username         string           // Имя пользователя (может быть пустым)
	FirstName        string           // Отображаемое имя
	Subscription     Subscription     // Текущая подписка
	DailyDownloads   int              // Скачиваний за LastDownloadDate
	LastDownloadDate time.Time        // Календарная дата, к которой относится DailyDownloads
	TotalDownloads   int              // Всего доставленных файлов
	History          []DownloadRecord // Последние загрузки, старые в начале
	CreatedAt        time.Time
}

// DownloadRecord описывает одну успешно доставленную загрузку.
type DownloadRecord struct {
	ID           int64     `json:"-"` // 0 — запись ещё не сохранена
	MediaName    string    `json:"media_name"`
	ByteSize     int64     `json:"byte_size"`
	SourceURL    string    `json:"source_url"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewUser возвращает пользователя со значениями бесплатного тарифа по умолчанию.
func NewUser(id int64, now time.Time) *User {
	return &User{
		ID:        id,
		CreatedAt: now,
	}
}

// IsPaid сообщает, оформлена ли у пользователя подписка (без учёта срока).
func (u *User) IsPaid() bool {
	return u.Subscription.Kind != SubscriptionNone
}

// RollDay обнуляет дневной счётчик, если today — другой календарный день.
// Возвращает true, если состояние изменилось.
func (u *User) RollDay(today time.Time) bool {
	if day.Equal(u.LastDownloadDate, today) {
		return false
	}
	u.DailyDownloads = 0
	u.LastDownloadDate = day.Of(today)
	return true
}

// AppendHistory добавляет запись в историю, вытесняя самые старые сверх HistoryLimit.
func (u *User) AppendHistory(rec DownloadRecord) {
	u.History = append(u.History, rec)
	if over := len(u.History) - HistoryLimit; over > 0 {
		u.History = append([]DownloadRecord(nil), u.History[over:]...)
	}
}

// Clone возвращает глубокую копию пользователя.
func (u *User) Clone() *User {
	c := *u
	c.History = append([]DownloadRecord(nil), u.History...)
	return &c
}

// UserSnapshot — срез состояния пользователя для /stats и админки.
type UserSnapshot struct {
	UserID             int64      `json:"user_id"`
	Username           string     `json:"username"`
	FirstName          string     `json:"first_name"`
	IsPaid             bool       `json:"is_paid"`
	Lifetime           bool       `json:"lifetime"`
	SubscriptionEnd    *time.Time `json:"subscription_end,omitempty"`
	DailyDownloads     int        `json:"daily_downloads"`
	FreeLimit          int        `json:"free_limit"`
	DownloadsRemaining int        `json:"downloads_remaining"` // -1 — без ограничений
	TotalDownloads     int        `json:"total_downloads"`
	LastDownloadDate   *time.Time `json:"last_download_date,omitempty"`
}

// UserStats — агрегированная статистика по всем пользователям.
type UserStats struct {
	Total int `json:"total_users"`
	Paid  int `json:"paid_users"`
	Free  int `json:"free_users"`
}
