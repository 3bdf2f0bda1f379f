package model

import (
	"time"
)

const (
	TransactionTypeSignup  = "SIGNUP"
	TransactionTypeTopup   = "TOPUP"
	TransactionTypeDebit   = "DEBIT"
	TransactionTypeReserve = "RESERVE"
	TransactionTypeRestore = "RESTORE"
)

// AccountTransaction is the append-only journal of balance changes.
// Reference is the order id or reservation number behind the change.
type AccountTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	PlatformID    string    `gorm:"type:varchar(64);index;not null" json:"platform_id"`
	Reference     string    `gorm:"type:varchar(128);index;not null;default:''" json:"reference"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceAfter  *int64    `json:"balance_after,omitempty"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
