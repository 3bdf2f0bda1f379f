package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Outbox topics. TopicUserNotification is delivered to the messaging bot;
// any other topic is published to Kafka.
const (
	TopicUserNotification = "user.notification"
)

// OutboxMessage is written in the same transaction as the state change it
// announces and delivered later by the outbox sender.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(128);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// UserNotification is the payload of a TopicUserNotification message.
type UserNotification struct {
	PlatformID string `json:"platform_id"`
	Text       string `json:"text"`
}

// SettlementEvent is the payload published for every applied settlement.
type SettlementEvent struct {
	OrderID    string    `json:"order_id"`
	PlatformID string    `json:"platform_id"`
	Credits    int64     `json:"credits"`
	Balance    int64     `json:"balance"`
	Status     string    `json:"status"`
	SettledAt  time.Time `json:"settled_at"`
}

// AllModels lists every table for migration.
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&Invoice{},
		&CreditReservation{},
		&AccountTransaction{},
		&OutboxMessage{},
	}
}
