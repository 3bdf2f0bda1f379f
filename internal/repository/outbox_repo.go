package repository

import (
	"context"
	"time"

	"creditgate/internal/model"

	"gorm.io/gorm"
)

// OutboxRepository stores messages written alongside ledger changes. Status
// writes only touch PENDING rows, so two senders racing on one message
// cannot resurrect it.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) pending(ctx context.Context, id int64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending)
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.pending(ctx, id).Update("status", model.OutboxStatusSent).Error
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.pending(ctx, id).UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

// MarkAsFailed records the final attempt and parks the message.
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.pending(ctx, id).Updates(map[string]interface{}{
		"status":      model.OutboxStatusFailed,
		"retry_count": gorm.Expr("retry_count + 1"),
	}).Error
}

// PurgeSent deletes delivered messages older than before.
func (r *OutboxRepository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.OutboxStatusSent, before).
		Delete(&model.OutboxMessage{})
	return result.RowsAffected, result.Error
}
