package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageEntry is one append-only turn of a user's conversation.
type MessageEntry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index:idx_messages_user_id" json:"user_id"`
	CreatedAt time.Time `gorm:"column:dt;autoCreateTime" json:"dt"`
	Role      Role      `gorm:"column:role;size:16;not null" json:"role"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
}

func (MessageEntry) TableName() string {
	return "messages"
}
