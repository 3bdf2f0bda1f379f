package model

import (
	"time"
)

// Account is the per-user credit balance, the core table of the system.
// PlatformID is the messaging-platform user id (or a web-issued id);
// AccessToken is the second, unguessable identifier handed to the user.
type Account struct {
	PlatformID  string    `gorm:"type:varchar(64);primaryKey" json:"platform_id"`
	AccessToken string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"access_token"`
	DisplayName string    `gorm:"type:varchar(128);not null;default:''" json:"display_name"`
	Balance     int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
