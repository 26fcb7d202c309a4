package chat

import "github.com/magabrotheeeer/media-relay/internal/models"

// Update — входящее обновление Bot API (вебхук).
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message — сообщение Bot API.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User — отправитель сообщения.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat — чат, в который пришло сообщение.
type Chat struct {
	ID int64 `json:"id"`
}

// ToModel извлекает текстовое сообщение пользователя. Обновления без текста,
// без отправителя и от ботов отбрасываются.
func (u Update) ToModel() (models.Update, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Text == "" {
		return models.Update{}, false
	}
	return models.Update{
		UpdateID:  u.UpdateID,
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		Username:  m.From.Username,
		FirstName: m.From.FirstName,
		Text:      m.Text,
	}, true
}

// apiResponse — общий конверт ответа Bot API.
type apiResponse struct {
	OK          bool    `json:"ok"`
	Description string  `json:"description"`
	Result      Message `json:"result"`
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type editMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}
