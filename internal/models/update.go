package models

// Update — входящее текстовое сообщение из чат-платформы.
type Update struct {
	UpdateID  int64  `json:"update_id"`
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	Text      string `json:"text"`
}
