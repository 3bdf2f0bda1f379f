package service

import (
	"context"
	"testing"

	"creditgate/internal/config"
	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/pkg/orderref"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers([]config.TierConfig{{USD: "2", Credits: 20}, {USD: "4.50", Credits: 50}})
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "2$ - 20", tiers[0].Label())
	assert.Equal(t, "4.5$ - 50", tiers[1].Label())
	assert.Equal(t, 1, tiers[1].Index)

	_, err = ParseTiers([]config.TierConfig{{USD: "two", Credits: 20}})
	assert.Error(t, err)
}

func TestInvoiceService_CreateInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "U1")

	inv, err := env.invoices.CreateInvoice(ctx, acc, usd("2"), 20)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusCreated, inv.Status)
	assert.Equal(t, "https://pay.example/"+inv.OrderID, inv.PayURL)
	require.NotNil(t, inv.ExpiredAt)

	ref, err := orderref.Decode(inv.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "U1", ref.AccountKey)
	assert.Equal(t, int64(20), ref.CreditCount)

	require.Len(t, env.gw.requests, 1)
	assert.True(t, env.gw.requests[0].Amount.Equal(usd("2")))

	stored, err := repository.NewInvoiceRepository(env.db).GetByOrderID(ctx, nil, inv.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stored.CreditCount)

	assert.Equal(t, int64(3), env.balance(t, "U1"))
}

func TestInvoiceService_GatewayUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.gw.err = errBoom
	acc := env.account(t, "U1")

	_, err := env.invoices.CreateInvoice(context.Background(), acc, usd("2"), 20)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	var count int64
	require.NoError(t, env.db.Model(&model.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, int64(3), env.balance(t, "U1"))
}

func TestInvoiceService_CreateTierInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "U1")

	inv, err := env.invoices.CreateTierInvoice(ctx, acc, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), inv.CreditCount)
	assert.Equal(t, "5", inv.USDAmount)

	_, err = env.invoices.CreateTierInvoice(ctx, acc, 3)
	assert.ErrorIs(t, err, ErrInvalidTier)
	_, err = env.invoices.CreateTierInvoice(ctx, acc, -1)
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestInvoiceService_RejectsNonPositive(t *testing.T) {
	env := newTestEnv(t)
	acc := env.account(t, "U1")

	_, err := env.invoices.CreateInvoice(context.Background(), acc, usd("0"), 20)
	assert.ErrorIs(t, err, ErrInvalidTier)
	_, err = env.invoices.CreateInvoice(context.Background(), acc, usd("2"), 0)
	assert.ErrorIs(t, err, ErrInvalidTier)
	assert.Empty(t, env.gw.requests)
}
