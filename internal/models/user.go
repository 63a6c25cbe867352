package models

import (
	"time"
)

const (
	// DefaultFreeMessages is the free-trial allowance granted to a new user.
	DefaultFreeMessages = 10
	// UnlimitedFree is stored in free_left once a user has paid.
	UnlimitedFree = 1000000
)

// Profile is the user's questionnaire document (demographics, goals, restrictions).
// Its shape belongs to the client; it is stored as serialized JSON.
type Profile map[string]interface{}

type UserRecord struct {
	UserID      string     `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	IsPaid      bool       `gorm:"column:is_paid;not null;default:false" json:"is_paid"`
	FreeLeft    int        `gorm:"column:free_left;not null;default:10" json:"free_left"`
	PaidUntil   *time.Time `gorm:"column:paid_until" json:"paid_until,omitempty"`
	ProfileJSON string     `gorm:"column:profile_json;type:text;not null;default:''" json:"profile_json"`
	Summary     string     `gorm:"column:summary;type:text;not null;default:''" json:"summary"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (UserRecord) TableName() string {
	return "users"
}
