package repository

import (
	"context"
	"errors"
	"time"

	"creditgate/internal/model"

	"gorm.io/gorm"
)

var ErrReservationNotFound = errors.New("reservation not found")

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *ReservationRepository) Create(ctx context.Context, tx *gorm.DB, reservation *model.CreditReservation) error {
	return r.conn(tx).WithContext(ctx).Create(reservation).Error
}

func (r *ReservationRepository) GetByNo(ctx context.Context, tx *gorm.DB, reservationNo string) (*model.CreditReservation, error) {
	var reservation model.CreditReservation
	err := r.conn(tx).WithContext(ctx).Where("reservation_no = ?", reservationNo).First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// UpdateStatus moves a reservation between states only if it is still in
// fromStatus. It reports whether this call performed the move.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, reservationNo, fromStatus, toStatus string) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.CreditReservation{}).
		Where("reservation_no = ? AND status = ?", reservationNo, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ReservationRepository) GetStalePending(ctx context.Context, before time.Time, limit int) ([]*model.CreditReservation, error) {
	var reservations []*model.CreditReservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ReservationStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&reservations).Error
	return reservations, err
}
