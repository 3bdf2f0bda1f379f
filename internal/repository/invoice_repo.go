package repository

import (
	"context"
	"errors"
	"time"

	"creditgate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceStatusInvalid = errors.New("invoice status invalid")
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) error {
	return r.conn(tx).WithContext(ctx).Create(invoice).Error
}

func (r *InvoiceRepository) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Invoice, error) {
	var invoice model.Invoice
	err := r.conn(tx).WithContext(ctx).Where("order_id = ?", orderID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvoiceStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.InvoiceStatusPaid {
		now := time.Now()
		updates["paid_at"] = &now
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Invoice{}).
		Where("order_id = ? AND status = ?", orderID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvoiceStatusInvalid
	}
	return nil
}

// ConsumeReference marks the order reference as settled. A missing invoice
// row is inserted as PAID; an existing unpaid one is flipped to PAID. It
// returns false when the reference had already been consumed.
func (r *InvoiceRepository) ConsumeReference(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) (bool, error) {
	db := r.conn(tx).WithContext(ctx)
	now := time.Now()

	invoice.Status = model.InvoiceStatusPaid
	invoice.PaidAt = &now
	inserted := db.Clauses(clause.OnConflict{DoNothing: true}).Create(invoice)
	if inserted.Error != nil {
		return false, inserted.Error
	}
	if inserted.RowsAffected == 1 {
		return true, nil
	}

	flipped := db.Model(&model.Invoice{}).
		Where("order_id = ? AND status IN ?", invoice.OrderID, payableStatuses()).
		Updates(map[string]interface{}{
			"status":  model.InvoiceStatusPaid,
			"paid_at": &now,
		})
	if flipped.Error != nil {
		return false, flipped.Error
	}
	return flipped.RowsAffected == 1, nil
}

func payableStatuses() []string {
	var out []string
	for from, targets := range model.ValidInvoiceTransitions {
		for _, to := range targets {
			if to == model.InvoiceStatusPaid {
				out = append(out, from)
			}
		}
	}
	return out
}

func (r *InvoiceRepository) GetExpiredInvoices(ctx context.Context, now time.Time, limit int) ([]*model.Invoice, error) {
	var invoices []*model.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND expired_at IS NOT NULL AND expired_at < ?", model.InvoiceStatusCreated, now).
		Order("expired_at ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}
