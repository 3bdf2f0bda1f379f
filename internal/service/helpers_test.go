package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/gateway"
	"creditgate/internal/infrastructure/lock"
	"creditgate/internal/model"
	"creditgate/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testAPIKey          = "gateway-key"
	testSettlementTopic = "creditgate.settlement"
)

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []gateway.InvoiceRequest
}

func (g *fakeGateway) CreateInvoice(_ context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Invoice{UUID: "uuid-" + req.OrderID, URL: "https://pay.example/" + req.OrderID}, nil
}

func (g *fakeGateway) Lifetime() time.Duration { return time.Hour }

type fakeGenerator struct {
	fn    func(ctx context.Context, prompt string) (string, error)
	calls int
	mu    sync.Mutex
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.fn(ctx, prompt)
}

type testEnv struct {
	db       *gorm.DB
	identity *IdentityService
	ledger   *LedgerService
	invoices *InvoiceService
	webhook  *WebhookService
	generate *GenerateService
	gw       *fakeGateway
	gen      *fakeGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)

	tiers, err := ParseTiers([]config.TierConfig{
		{USD: "2", Credits: 20},
		{USD: "5", Credits: 60},
		{USD: "10", Credits: 150},
	})
	require.NoError(t, err)

	env := &testEnv{
		db: db,
		gw: &fakeGateway{},
		gen: &fakeGenerator{fn: func(_ context.Context, prompt string) (string, error) {
			return "script about " + prompt, nil
		}},
	}
	env.identity = NewIdentityService(db, 3, log)
	env.ledger = NewLedgerService(db, log)
	env.invoices = NewInvoiceService(db, env.gw, tiers, log)
	env.webhook = NewWebhookService(db, env.identity, env.ledger, lock.NewLocalLocker(), WebhookOptions{
		APIKey:          testAPIKey,
		VerifySignature: true,
		SettlementTopic: testSettlementTopic,
	}, log)
	env.generate = NewGenerateService(env.identity, env.ledger, env.gen, log)
	return env
}

func (e *testEnv) account(t *testing.T, platformID string) *model.Account {
	t.Helper()
	acc, err := e.identity.ResolveOrCreate(context.Background(), platformID)
	require.NoError(t, err)
	return acc
}

func (e *testEnv) balance(t *testing.T, platformID string) int64 {
	t.Helper()
	b, err := e.ledger.Read(context.Background(), platformID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) setBalance(t *testing.T, platformID string, balance int64) {
	t.Helper()
	require.NoError(t, e.db.Model(&model.Account{}).
		Where("platform_id = ?", platformID).
		Update("balance", balance).Error)
}

func (e *testEnv) outbox(t *testing.T) []model.OutboxMessage {
	t.Helper()
	var msgs []model.OutboxMessage
	require.NoError(t, e.db.Order("id ASC").Find(&msgs).Error)
	return msgs
}

// signedNotification builds a gateway callback body signed with key.
func signedNotification(orderID, status, key string) []byte {
	unsigned := `{"type":"payment","uuid":"gw-1","order_id":"` + orderID +
		`","amount":"2.00","payment_amount":"2.00","currency":"USD","status":"` + status + `","is_final":true}`
	sign := gateway.Sign([]byte(unsigned), key)
	return []byte(strings.TrimSuffix(unsigned, "}") + `,"sign":"` + sign + `"}`)
}

var errBoom = errors.New("boom")

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }
