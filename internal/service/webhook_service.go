package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creditgate/internal/gateway"
	"creditgate/internal/infrastructure/lock"
	"creditgate/internal/metrics"
	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/pkg/orderref"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ack is the reconciler's verdict on one notification. The HTTP layer
// acknowledges every parseable notification regardless of Applied.
type Ack struct {
	Applied bool
	Result  string
}

const (
	ResultApplied      = "applied"
	ResultDuplicate    = "duplicate"
	ResultIgnored      = "ignored"
	ResultFailedMarked = "failed"
	ResultUnauthorized = "unauthorized"
	ResultMalformed    = "malformed"
	ResultUnknown      = "unknown_account"
	ResultError        = "error"
)

type WebhookOptions struct {
	APIKey          string
	VerifySignature bool
	PathSecret      string
	// SettlementTopic, when set, also publishes a SettlementEvent.
	SettlementTopic string
}

// WebhookService applies gateway settlement notifications: each order
// reference credits its account at most once.
type WebhookService struct {
	db          *gorm.DB
	invoiceRepo *repository.InvoiceRepository
	outboxRepo  *repository.OutboxRepository
	identity    *IdentityService
	ledger      *LedgerService
	locker      lock.Locker
	opts        WebhookOptions
	log         *zap.Logger
}

func NewWebhookService(db *gorm.DB, identity *IdentityService, ledger *LedgerService, locker lock.Locker, opts WebhookOptions, log *zap.Logger) *WebhookService {
	return &WebhookService{
		db:          db,
		invoiceRepo: repository.NewInvoiceRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		identity:    identity,
		ledger:      ledger,
		locker:      locker,
		opts:        opts,
		log:         log.Named("webhook"),
	}
}

func (s *WebhookService) ack(applied bool, result string) Ack {
	metrics.SettlementsTotal.WithLabelValues(result).Inc()
	return Ack{Applied: applied, Result: result}
}

// HandleNotification authenticates, decodes and applies one notification.
// It never fails: problems are logged and reported in the Ack.
func (s *WebhookService) HandleNotification(ctx context.Context, body []byte, pathSecret string) Ack {
	if s.opts.PathSecret != "" && !gateway.SecretMatches(s.opts.PathSecret, pathSecret) {
		s.log.Warn("notification rejected: bad path secret")
		return s.ack(false, ResultUnauthorized)
	}

	n, err := gateway.ParseNotification(body)
	if err != nil {
		s.log.Warn("notification rejected: unparseable", zap.Error(err))
		return s.ack(false, ResultMalformed)
	}
	log := s.log.With(zap.String("order_id", n.OrderID), zap.String("status", n.Status))

	if s.opts.VerifySignature {
		if err := gateway.VerifyNotification(body, s.opts.APIKey); err != nil {
			log.Warn("notification rejected: signature", zap.Error(err))
			return s.ack(false, ResultUnauthorized)
		}
	}

	if !n.Successful() {
		if n.Failed() {
			return s.markFailed(ctx, log, n.OrderID)
		}
		log.Info("notification ignored: status not settled")
		return s.ack(false, ResultIgnored)
	}

	ref, err := orderref.Decode(n.OrderID)
	if err != nil {
		log.Warn("notification rejected", zap.Error(fmt.Errorf("%w: %v", ErrMalformedCallback, err)))
		return s.ack(false, ResultMalformed)
	}
	if ref.CreditCount == 0 {
		log.Warn("notification ignored: zero credits")
		return s.ack(false, ResultIgnored)
	}

	release, err := s.locker.Acquire(ctx, n.OrderID)
	if err != nil {
		// the conditional invoice flip still guarantees a single credit
		log.Warn("settlement lock unavailable, continuing unlocked", zap.Error(err))
	} else {
		defer release()
	}

	account, err := s.identity.ResolveOrCreate(ctx, ref.AccountKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidIdentifier) {
			log.Warn("notification for unknown account", zap.String("account_key", ref.AccountKey))
			return s.ack(false, ResultUnknown)
		}
		log.Error("resolve account failed", zap.Error(err))
		return s.ack(false, ResultError)
	}

	applied, balance, err := s.settle(ctx, n, ref, account)
	if err != nil {
		log.Error("settlement failed", zap.String("platform_id", account.PlatformID), zap.Error(err))
		return s.ack(false, ResultError)
	}
	if !applied {
		log.Info("duplicate notification, already settled")
		return s.ack(false, ResultDuplicate)
	}

	metrics.CreditsGrantedTotal.Add(float64(ref.CreditCount))
	log.Info("settlement applied",
		zap.String("platform_id", account.PlatformID),
		zap.Int64("credits", ref.CreditCount),
		zap.Int64("balance", balance))
	return s.ack(true, ResultApplied)
}

// settle consumes the reference, credits the account and enqueues the
// announcements in one transaction.
func (s *WebhookService) settle(ctx context.Context, n *gateway.Notification, ref orderref.Reference, account *model.Account) (bool, int64, error) {
	var (
		applied bool
		balance int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.invoiceRepo.ConsumeReference(ctx, tx, &model.Invoice{
			OrderID:     n.OrderID,
			PlatformID:  account.PlatformID,
			USDAmount:   n.Amount,
			CreditCount: ref.CreditCount,
			GatewayUUID: n.UUID,
		})
		if err != nil || !applied {
			return err
		}

		balance, err = s.ledger.CreditTx(ctx, tx, account.PlatformID, ref.CreditCount, n.OrderID)
		if err != nil {
			return err
		}

		if err := enqueue(ctx, tx, s.outboxRepo, model.TopicUserNotification, n.OrderID, model.UserNotification{
			PlatformID: account.PlatformID,
			Text:       fmt.Sprintf("Payment confirmed! Credited %d requests. Balance: %d", ref.CreditCount, balance),
		}); err != nil {
			return err
		}
		if s.opts.SettlementTopic == "" {
			return nil
		}
		return enqueue(ctx, tx, s.outboxRepo, s.opts.SettlementTopic, n.OrderID, model.SettlementEvent{
			OrderID:    n.OrderID,
			PlatformID: account.PlatformID,
			Credits:    ref.CreditCount,
			Balance:    balance,
			Status:     n.Status,
			SettledAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return false, 0, err
	}
	return applied, balance, nil
}

func (s *WebhookService) markFailed(ctx context.Context, log *zap.Logger, orderID string) Ack {
	err := s.invoiceRepo.UpdateStatus(ctx, nil, orderID, model.InvoiceStatusCreated, model.InvoiceStatusFailed)
	switch {
	case err == nil:
		log.Info("invoice marked failed")
		return s.ack(false, ResultFailedMarked)
	case errors.Is(err, repository.ErrInvoiceStatusInvalid):
		log.Info("failure notification ignored: invoice not open")
		return s.ack(false, ResultIgnored)
	default:
		log.Error("mark invoice failed", zap.Error(err))
		return s.ack(false, ResultError)
	}
}
