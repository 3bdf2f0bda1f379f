package model

import (
	"time"
)

const (
	InvoiceStatusCreated = "CREATED"
	InvoiceStatusPaid    = "PAID"
	InvoiceStatusExpired = "EXPIRED"
	InvoiceStatusFailed  = "FAILED"
)

// A verified payment always credits, so EXPIRED and FAILED may still move
// to PAID. PAID is terminal.
var ValidInvoiceTransitions = map[string][]string{
	InvoiceStatusCreated: {InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusFailed},
	InvoiceStatusExpired: {InvoiceStatusPaid},
	InvoiceStatusFailed:  {InvoiceStatusPaid},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidInvoiceTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Invoice is a top-up request issued through the payment gateway. OrderID is
// the order reference sent to the gateway; a PAID row marks the reference
// as consumed.
type Invoice struct {
	OrderID     string     `gorm:"type:varchar(128);primaryKey" json:"order_id"`
	PlatformID  string     `gorm:"type:varchar(64);index;not null" json:"platform_id"`
	USDAmount   string     `gorm:"type:varchar(32);not null;default:''" json:"usd_amount"`
	CreditCount int64      `gorm:"not null" json:"credit_count"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	GatewayUUID string     `gorm:"type:varchar(64);not null;default:''" json:"gateway_uuid"`
	PayURL      string     `gorm:"type:varchar(512);not null;default:''" json:"pay_url"`
	ExpiredAt   *time.Time `gorm:"index" json:"expired_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}
