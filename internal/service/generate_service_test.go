package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"creditgate/internal/model"
	"creditgate/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateService_Success(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.generate.Generate(context.Background(), "U1", "cats")
	require.NoError(t, err)
	assert.Equal(t, "script about cats", res.Script)
	assert.Equal(t, int64(2), res.Balance)

	var r model.CreditReservation
	require.NoError(t, env.db.First(&r).Error)
	assert.Equal(t, model.ReservationStatusConfirmed, r.Status)
}

func TestGenerateService_UpstreamFailureRestoresCredit(t *testing.T) {
	env := newTestEnv(t)
	env.gen.fn = func(context.Context, string) (string, error) { return "", errBoom }

	_, err := env.generate.Generate(context.Background(), "U1", "cats")
	assert.ErrorIs(t, err, ErrUpstreamGeneration)
	assert.Equal(t, int64(3), env.balance(t, "U1"))

	var r model.CreditReservation
	require.NoError(t, env.db.First(&r).Error)
	assert.Equal(t, model.ReservationStatusReleased, r.Status)
}

func TestGenerateService_CancelledRequestRestoresCredit(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "U1")
	ctx, cancel := context.WithCancel(context.Background())
	env.gen.fn = func(ctx context.Context, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := env.generate.Generate(ctx, "U1", "cats")
	assert.ErrorIs(t, err, ErrUpstreamGeneration)
	assert.Equal(t, int64(3), env.balance(t, "U1"))
}

func TestGenerateService_ZeroBalance(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "U1")
	env.setBalance(t, "U1", 0)

	_, err := env.generate.Generate(context.Background(), "U1", "cats")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, env.gen.calls)
}

func TestGenerateService_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	token, err := idgen.AccessToken()
	require.NoError(t, err)

	_, err = env.generate.Generate(context.Background(), token, "cats")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, env.gen.calls)
}

func TestGenerateService_LastCreditGoesToOneCaller(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "U1")
	env.setBalance(t, "U1", 1)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	env.gen.fn = func(context.Context, string) (string, error) {
		close(entered)
		<-proceed
		return "ok", nil
	}

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = env.generate.Generate(context.Background(), "U1", "a")
	}()

	<-entered
	_, err := env.generate.Generate(context.Background(), "U1", "b")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	close(proceed)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Zero(t, env.balance(t, "U1"))
	assert.Equal(t, 1, env.gen.calls)
}

func shortSettleTimeout(t *testing.T, d time.Duration) {
	t.Helper()
	prev := settleTimeout
	settleTimeout = d
	t.Cleanup(func() { settleTimeout = prev })
}

func TestGenerateService_SlowSuccessStillConfirms(t *testing.T) {
	shortSettleTimeout(t, 50*time.Millisecond)
	env := newTestEnv(t)
	env.gen.fn = func(context.Context, string) (string, error) {
		time.Sleep(150 * time.Millisecond)
		return "slow script", nil
	}

	res, err := env.generate.Generate(context.Background(), "U1", "cats")
	require.NoError(t, err)
	assert.Equal(t, "slow script", res.Script)
	assert.Equal(t, int64(2), res.Balance)

	var r model.CreditReservation
	require.NoError(t, env.db.First(&r).Error)
	assert.Equal(t, model.ReservationStatusConfirmed, r.Status)
}

func TestGenerateService_SlowFailureRestoresCredit(t *testing.T) {
	shortSettleTimeout(t, 50*time.Millisecond)
	env := newTestEnv(t)
	env.gen.fn = func(context.Context, string) (string, error) {
		time.Sleep(150 * time.Millisecond)
		return "", errBoom
	}

	_, err := env.generate.Generate(context.Background(), "U1", "cats")
	assert.ErrorIs(t, err, ErrUpstreamGeneration)
	assert.Equal(t, int64(3), env.balance(t, "U1"))

	var r model.CreditReservation
	require.NoError(t, env.db.First(&r).Error)
	assert.Equal(t, model.ReservationStatusReleased, r.Status)
}

func TestGenerateService_UpstreamTimeoutRestoresCredit(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "U1")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	env.gen.fn = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := env.generate.Generate(ctx, "U1", "cats")
	assert.ErrorIs(t, err, ErrUpstreamGeneration)
	assert.Equal(t, int64(3), env.balance(t, "U1"))
}
