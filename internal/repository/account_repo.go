package repository

import (
	"context"
	"errors"

	"creditgate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
	ErrInvalidAmount    = errors.New("amount must be positive")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// CreateIfAbsent inserts the account unless a row with the same platform id
// or access token exists. It reports whether the row was inserted.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, account *model.Account) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *AccountRepository) GetByPlatformID(ctx context.Context, tx *gorm.DB, platformID string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("platform_id = ?", platformID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByAccessToken(ctx context.Context, accessToken string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("access_token = ?", accessToken).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Decrease subtracts amount only while the balance covers it. The condition
// lives in the UPDATE itself, so concurrent callers can never drive the
// balance below zero.
func (r *AccountRepository) Decrease(ctx context.Context, tx *gorm.DB, platformID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	db := r.conn(tx)
	result := db.WithContext(ctx).
		Model(&model.Account{}).
		Where("platform_id = ? AND balance >= ?", platformID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByPlatformID(ctx, tx, platformID); err != nil {
			return err
		}
		return ErrBalanceNotEnough
	}
	return nil
}

func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, platformID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("platform_id = ?", platformID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) GetBalance(ctx context.Context, tx *gorm.DB, platformID string) (int64, error) {
	account, err := r.GetByPlatformID(ctx, tx, platformID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (r *AccountRepository) UpdateDisplayName(ctx context.Context, platformID, displayName string) error {
	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("platform_id = ? AND display_name <> ?", platformID, displayName).
		Update("display_name", displayName).Error
}
