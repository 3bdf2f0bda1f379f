package model

import (
	"time"
)

const (
	ReservationStatusPending   = "PENDING"
	ReservationStatusConfirmed = "CONFIRMED"
	ReservationStatusReleased  = "RELEASED"
)

// CreditReservation holds credits taken from an account while an external
// call is in flight. It ends CONFIRMED (spent) or RELEASED (given back).
type CreditReservation struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReservationNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"reservation_no"`
	PlatformID    string    `gorm:"type:varchar(64);index;not null" json:"platform_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditReservation) TableName() string {
	return "credit_reservation"
}
