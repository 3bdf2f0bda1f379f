package service

import (
	"context"
	"errors"
	"fmt"

	"creditgate/internal/metrics"
	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxHistory = 100

// LedgerService is the only writer of account balances. Every mutation is a
// conditional UPDATE inside a short transaction together with its journal
// entry; no lock is held across external calls.
type LedgerService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	reservationRepo *repository.ReservationRepository
	transactionRepo *repository.TransactionRepository
	log             *zap.Logger
}

func NewLedgerService(db *gorm.DB, log *zap.Logger) *LedgerService {
	return &LedgerService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		reservationRepo: repository.NewReservationRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		log:             log.Named("ledger"),
	}
}

func (s *LedgerService) Read(ctx context.Context, platformID string) (int64, error) {
	balance, err := s.accountRepo.GetBalance(ctx, nil, platformID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return 0, ErrNotFound
	}
	return balance, err
}

// History returns the newest journal entries for the account.
func (s *LedgerService) History(ctx context.Context, platformID string, limit int) ([]*model.AccountTransaction, error) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	return s.transactionRepo.ListByPlatformID(ctx, platformID, limit)
}

// TryDebit takes one credit. It returns false, without mutating anything,
// when the balance is zero.
func (s *LedgerService) TryDebit(ctx context.Context, platformID string) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.decrease(ctx, tx, platformID, 1)
		if err != nil {
			return err
		}
		return s.journal(ctx, tx, platformID, "", -1, model.TransactionTypeDebit, balance, "debit")
	})
	switch {
	case err == nil:
		metrics.LedgerOperationsTotal.WithLabelValues("debit", "ok").Inc()
		return true, nil
	case errors.Is(err, ErrInsufficientBalance):
		metrics.LedgerOperationsTotal.WithLabelValues("debit", "insufficient").Inc()
		return false, nil
	default:
		metrics.LedgerOperationsTotal.WithLabelValues("debit", "error").Inc()
		return false, err
	}
}

// Credit adds count credits and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, platformID string, count int64, reference string) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.CreditTx(ctx, tx, platformID, count, reference)
		return err
	})
	return balance, err
}

// CreditTx is Credit inside the caller's transaction.
func (s *LedgerService) CreditTx(ctx context.Context, tx *gorm.DB, platformID string, count int64, reference string) (int64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("credit %d: %w", count, repository.ErrInvalidAmount)
	}
	if err := s.accountRepo.Increase(ctx, tx, platformID, count); err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("credit", "error").Inc()
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increase balance: %w", err)
	}
	balance, err := s.accountRepo.GetBalance(ctx, tx, platformID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if err := s.journal(ctx, tx, platformID, reference, count, model.TransactionTypeTopup, balance, "top-up"); err != nil {
		return 0, err
	}
	metrics.LedgerOperationsTotal.WithLabelValues("credit", "ok").Inc()
	return balance, nil
}

// Reserve takes one credit and parks it in a PENDING reservation that must
// later be confirmed or released.
func (s *LedgerService) Reserve(ctx context.Context, platformID string) (*model.CreditReservation, error) {
	reservation := &model.CreditReservation{
		ReservationNo: idgen.GenerateReservationNo(),
		PlatformID:    platformID,
		Amount:        1,
		Status:        model.ReservationStatusPending,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.decrease(ctx, tx, platformID, reservation.Amount)
		if err != nil {
			return err
		}
		if err := s.reservationRepo.Create(ctx, tx, reservation); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		return s.journal(ctx, tx, platformID, reservation.ReservationNo, -reservation.Amount,
			model.TransactionTypeReserve, balance, "reserved for generation")
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrInsufficientBalance) {
			result = "insufficient"
		}
		metrics.LedgerOperationsTotal.WithLabelValues("reserve", result).Inc()
		return nil, err
	}
	metrics.LedgerOperationsTotal.WithLabelValues("reserve", "ok").Inc()
	return reservation, nil
}

// Confirm makes a reservation final. Confirming twice is a no-op.
func (s *LedgerService) Confirm(ctx context.Context, reservationNo string) error {
	moved, err := s.reservationRepo.UpdateStatus(ctx, nil, reservationNo,
		model.ReservationStatusPending, model.ReservationStatusConfirmed)
	if err != nil {
		return fmt.Errorf("confirm reservation: %w", err)
	}
	if !moved {
		r, err := s.reservationRepo.GetByNo(ctx, nil, reservationNo)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationStatusConfirmed {
			return fmt.Errorf("confirm reservation %s: already %s", reservationNo, r.Status)
		}
	}
	metrics.LedgerOperationsTotal.WithLabelValues("confirm", "ok").Inc()
	return nil
}

// Release returns a PENDING reservation's credits to the account. Only the
// first release restores; later calls report false.
func (s *LedgerService) Release(ctx context.Context, reservationNo string) (bool, error) {
	var released bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.reservationRepo.GetByNo(ctx, tx, reservationNo)
		if err != nil {
			return err
		}
		moved, err := s.reservationRepo.UpdateStatus(ctx, tx, reservationNo,
			model.ReservationStatusPending, model.ReservationStatusReleased)
		if err != nil || !moved {
			return err
		}
		if err := s.accountRepo.Increase(ctx, tx, r.PlatformID, r.Amount); err != nil {
			return fmt.Errorf("restore balance: %w", err)
		}
		balance, err := s.accountRepo.GetBalance(ctx, tx, r.PlatformID)
		if err != nil {
			return err
		}
		released = true
		return s.journal(ctx, tx, r.PlatformID, reservationNo, r.Amount,
			model.TransactionTypeRestore, balance, "reservation released")
	})
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("release", "error").Inc()
		return false, err
	}
	if released {
		metrics.LedgerOperationsTotal.WithLabelValues("release", "ok").Inc()
	}
	return released, nil
}

func (s *LedgerService) decrease(ctx context.Context, tx *gorm.DB, platformID string, amount int64) (int64, error) {
	if err := s.accountRepo.Decrease(ctx, tx, platformID, amount); err != nil {
		switch {
		case errors.Is(err, repository.ErrBalanceNotEnough):
			return 0, ErrInsufficientBalance
		case errors.Is(err, repository.ErrAccountNotFound):
			return 0, ErrNotFound
		default:
			return 0, fmt.Errorf("decrease balance: %w", err)
		}
	}
	return s.accountRepo.GetBalance(ctx, tx, platformID)
}

func (s *LedgerService) journal(ctx context.Context, tx *gorm.DB, platformID, reference string, amount int64, typ string, balanceAfter int64, remark string) error {
	if err := s.transactionRepo.Create(ctx, tx, &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		PlatformID:    platformID,
		Reference:     reference,
		Amount:        amount,
		Type:          typ,
		BalanceAfter:  &balanceAfter,
		Remark:        remark,
	}); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}
