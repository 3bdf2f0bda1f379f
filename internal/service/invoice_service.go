package service

import (
	"context"
	"fmt"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/gateway"
	"creditgate/internal/metrics"
	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/pkg/orderref"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvoiceGateway issues payment invoices.
type InvoiceGateway interface {
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
	Lifetime() time.Duration
}

// Tier is one purchasable credit pack.
type Tier struct {
	Index   int             `json:"index"`
	USD     decimal.Decimal `json:"usd"`
	Credits int64           `json:"credits"`
}

// Label renders the tier the way the bot menu shows it, e.g. "2$ - 20".
func (t Tier) Label() string {
	return fmt.Sprintf("%s$ - %d", t.USD.String(), t.Credits)
}

func ParseTiers(cfg []config.TierConfig) ([]Tier, error) {
	tiers := make([]Tier, 0, len(cfg))
	for i, c := range cfg {
		usd, err := decimal.NewFromString(c.USD)
		if err != nil {
			return nil, fmt.Errorf("tier %d: %w", i, err)
		}
		tiers = append(tiers, Tier{Index: i, USD: usd, Credits: c.Credits})
	}
	return tiers, nil
}

// InvoiceService creates signed payment invoices whose order reference
// carries the account key and credit count.
type InvoiceService struct {
	invoiceRepo *repository.InvoiceRepository
	gateway     InvoiceGateway
	tiers       []Tier
	log         *zap.Logger
}

func NewInvoiceService(db *gorm.DB, gw InvoiceGateway, tiers []Tier, log *zap.Logger) *InvoiceService {
	return &InvoiceService{
		invoiceRepo: repository.NewInvoiceRepository(db),
		gateway:     gw,
		tiers:       tiers,
		log:         log.Named("invoice"),
	}
}

func (s *InvoiceService) Tiers() []Tier {
	return append([]Tier(nil), s.tiers...)
}

func (s *InvoiceService) TierByIndex(i int) (Tier, error) {
	if i < 0 || i >= len(s.tiers) {
		return Tier{}, ErrInvalidTier
	}
	return s.tiers[i], nil
}

// CreateInvoice asks the gateway for an invoice of usd dollars that will
// credit the account with credits on settlement. The account is not touched.
// Any gateway failure is ErrGatewayUnavailable.
func (s *InvoiceService) CreateInvoice(ctx context.Context, account *model.Account, usd decimal.Decimal, credits int64) (*model.Invoice, error) {
	if !usd.IsPositive() || credits <= 0 {
		return nil, ErrInvalidTier
	}
	ref, err := orderref.New(account.PlatformID, credits)
	if err != nil {
		return nil, fmt.Errorf("build order reference: %w", err)
	}
	orderID := ref.String()

	gwInvoice, err := s.gateway.CreateInvoice(ctx, gateway.InvoiceRequest{OrderID: orderID, Amount: usd})
	if err != nil {
		metrics.InvoicesTotal.WithLabelValues("gateway_error").Inc()
		s.log.Warn("invoice creation failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	expiredAt := gwInvoice.ExpiredAt
	if expiredAt.IsZero() && s.gateway.Lifetime() > 0 {
		expiredAt = time.Now().Add(s.gateway.Lifetime())
	}
	invoice := &model.Invoice{
		OrderID:     orderID,
		PlatformID:  account.PlatformID,
		USDAmount:   usd.String(),
		CreditCount: credits,
		Status:      model.InvoiceStatusCreated,
		GatewayUUID: gwInvoice.UUID,
		PayURL:      gwInvoice.URL,
	}
	if !expiredAt.IsZero() {
		invoice.ExpiredAt = &expiredAt
	}

	// settlement does not depend on this row, so a failed write only loses
	// the local record
	if err := s.invoiceRepo.Create(ctx, nil, invoice); err != nil {
		s.log.Error("persist invoice failed", zap.String("order_id", orderID), zap.Error(err))
	}

	metrics.InvoicesTotal.WithLabelValues("ok").Inc()
	s.log.Info("invoice created",
		zap.String("order_id", orderID),
		zap.String("platform_id", account.PlatformID),
		zap.String("usd", usd.String()),
		zap.Int64("credits", credits))
	return invoice, nil
}

// CreateTierInvoice is CreateInvoice for a configured tier.
func (s *InvoiceService) CreateTierInvoice(ctx context.Context, account *model.Account, tierIndex int) (*model.Invoice, error) {
	tier, err := s.TierByIndex(tierIndex)
	if err != nil {
		return nil, err
	}
	return s.CreateInvoice(ctx, account, tier.USD, tier.Credits)
}
