package repository

import (
	"context"
	"testing"
	"time"

	"creditgate/internal/model"
	"creditgate/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedAccount(t *testing.T, db *gorm.DB, id, token string, balance int64) {
	t.Helper()
	created, err := NewAccountRepository(db).CreateIfAbsent(context.Background(), nil,
		&model.Account{PlatformID: id, AccessToken: token, Balance: balance})
	require.NoError(t, err)
	require.True(t, created)
}

func TestAccountRepository_CreateIfAbsent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	seedAccount(t, db, "U1", "tok-1", 3)

	created, err := repo.CreateIfAbsent(ctx, nil, &model.Account{PlatformID: "U1", AccessToken: "tok-2", Balance: 99})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = repo.CreateIfAbsent(ctx, nil, &model.Account{PlatformID: "U2", AccessToken: "tok-1", Balance: 99})
	require.NoError(t, err)
	assert.False(t, created)

	acc, err := repo.GetByPlatformID(ctx, nil, "U1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", acc.AccessToken)
	assert.Equal(t, int64(3), acc.Balance)

	_, err = repo.GetByPlatformID(ctx, nil, "U2")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	byToken, err := repo.GetByAccessToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "U1", byToken.PlatformID)
}

func TestAccountRepository_DecreaseIsConditional(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	seedAccount(t, db, "U1", "tok-1", 2)

	require.NoError(t, repo.Decrease(ctx, nil, "U1", 2))
	assert.ErrorIs(t, repo.Decrease(ctx, nil, "U1", 1), ErrBalanceNotEnough)
	assert.ErrorIs(t, repo.Decrease(ctx, nil, "ghost", 1), ErrAccountNotFound)
	assert.ErrorIs(t, repo.Decrease(ctx, nil, "U1", 0), ErrInvalidAmount)

	balance, err := repo.GetBalance(ctx, nil, "U1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestAccountRepository_Increase(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	seedAccount(t, db, "U1", "tok-1", 0)

	require.NoError(t, repo.Increase(ctx, nil, "U1", 10))
	assert.ErrorIs(t, repo.Increase(ctx, nil, "ghost", 10), ErrAccountNotFound)
	assert.ErrorIs(t, repo.Increase(ctx, nil, "U1", -1), ErrInvalidAmount)

	balance, err := repo.GetBalance(ctx, nil, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestAccountRepository_DecreaseRollsBackWithTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	seedAccount(t, db, "U1", "tok-1", 5)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.Decrease(ctx, tx, "U1", 3); err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	balance, err := repo.GetBalance(ctx, nil, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestInvoiceRepository_ConsumeReference(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	inv := func(id string) *model.Invoice {
		return &model.Invoice{OrderID: id, PlatformID: "U1", USDAmount: "2", CreditCount: 20}
	}

	// no prior row
	ok, err := repo.ConsumeReference(ctx, nil, inv("U1_20_aa"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ConsumeReference(ctx, nil, inv("U1_20_aa"))
	require.NoError(t, err)
	assert.False(t, ok)

	// open invoice
	require.NoError(t, repo.Create(ctx, nil, &model.Invoice{
		OrderID: "U1_20_bb", PlatformID: "U1", USDAmount: "2", CreditCount: 20, Status: model.InvoiceStatusCreated,
	}))
	ok, err = repo.ConsumeReference(ctx, nil, inv("U1_20_bb"))
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByOrderID(ctx, nil, "U1_20_bb")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	ok, err = repo.ConsumeReference(ctx, nil, inv("U1_20_bb"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvoiceRepository_UpdateStatus(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, nil, &model.Invoice{
		OrderID: "U1_20_aa", PlatformID: "U1", USDAmount: "2", CreditCount: 20, Status: model.InvoiceStatusCreated,
	}))

	assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, "U1_20_aa", model.InvoiceStatusPaid, model.InvoiceStatusCreated), ErrInvoiceStatusInvalid)
	require.NoError(t, repo.UpdateStatus(ctx, nil, "U1_20_aa", model.InvoiceStatusCreated, model.InvoiceStatusExpired))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, "U1_20_aa", model.InvoiceStatusCreated, model.InvoiceStatusFailed), ErrInvoiceStatusInvalid)

	_, err := repo.GetByOrderID(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestPayableStatuses(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{model.InvoiceStatusCreated, model.InvoiceStatusExpired, model.InvoiceStatusFailed},
		payableStatuses())
}

func TestReservationRepository(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewReservationRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, &model.CreditReservation{
		ReservationNo: "RSV1", PlatformID: "U1", Amount: 1, Status: model.ReservationStatusPending,
	}))

	moved, err := repo.UpdateStatus(ctx, nil, "RSV1", model.ReservationStatusPending, model.ReservationStatusConfirmed)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = repo.UpdateStatus(ctx, nil, "RSV1", model.ReservationStatusPending, model.ReservationStatusReleased)
	require.NoError(t, err)
	assert.False(t, moved)

	stale, err := repo.GetStalePending(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = repo.GetByNo(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestOutboxRepository(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	a := &model.OutboxMessage{MessageKey: "a", Topic: "t", Payload: "{}", Status: model.OutboxStatusPending}
	b := &model.OutboxMessage{MessageKey: "b", Topic: "t", Payload: "{}", Status: model.OutboxStatusPending}
	require.NoError(t, repo.Create(ctx, nil, a))
	require.NoError(t, repo.Create(ctx, nil, b))

	require.NoError(t, repo.MarkAsSent(ctx, a.ID))
	require.NoError(t, repo.IncrementRetryCount(ctx, b.ID))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].MessageKey)
	assert.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, repo.MarkAsFailed(ctx, b.ID))
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransactionRepository(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	for i, typ := range []string{model.TransactionTypeSignup, model.TransactionTypeReserve, model.TransactionTypeRestore} {
		require.NoError(t, repo.Create(ctx, nil, &model.AccountTransaction{
			TransactionNo: "TXN" + string(rune('a'+i)),
			PlatformID:    "U1",
			Reference:     "RSV1",
			Amount:        1,
			Type:          typ,
		}))
	}

	latest, err := repo.ListByPlatformID(ctx, "U1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, model.TransactionTypeRestore, latest[0].Type)

	byRef, err := repo.ListByReference(ctx, "RSV1")
	require.NoError(t, err)
	require.Len(t, byRef, 3)
	assert.Equal(t, model.TransactionTypeSignup, byRef[0].Type)
}
