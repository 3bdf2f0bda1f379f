package service

import (
	"context"
	"fmt"
	"time"

	"creditgate/internal/metrics"

	"go.uber.org/zap"
)

// settleTimeout bounds the ledger writes that follow a generation call.
var settleTimeout = 10 * time.Second

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GenerateResult struct {
	Script  string `json:"script"`
	Balance int64  `json:"balance"`
}

// GenerateService spends one credit per successful generation.
type GenerateService struct {
	identity  *IdentityService
	ledger    *LedgerService
	generator Generator
	log       *zap.Logger
}

func NewGenerateService(identity *IdentityService, ledger *LedgerService, generator Generator, log *zap.Logger) *GenerateService {
	return &GenerateService{
		identity:  identity,
		ledger:    ledger,
		generator: generator,
		log:       log.Named("generate"),
	}
}

// Generate reserves a credit, calls the generator, then confirms the
// reservation on success or releases it on any failure, including
// cancellation of ctx.
func (s *GenerateService) Generate(ctx context.Context, identifier, prompt string) (*GenerateResult, error) {
	account, err := s.identity.ResolveOrCreate(ctx, identifier)
	if err != nil {
		return nil, err
	}

	reservation, err := s.ledger.Reserve(ctx, account.PlatformID)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("platform_id", account.PlatformID), zap.String("reservation_no", reservation.ReservationNo))

	script, genErr := s.generator.Generate(ctx, prompt)

	// settling must survive a cancelled request and starts its own deadline
	// only once the generator has returned
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if genErr != nil {
		metrics.GenerationsTotal.WithLabelValues("upstream_error").Inc()
		if _, err := s.ledger.Release(settleCtx, reservation.ReservationNo); err != nil {
			log.Error("release reservation failed", zap.Error(err))
		}
		log.Warn("generation failed, credit restored", zap.Error(genErr))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamGeneration, genErr)
	}

	if err := s.ledger.Confirm(settleCtx, reservation.ReservationNo); err != nil {
		log.Error("confirm reservation failed", zap.Error(err))
	}
	metrics.GenerationsTotal.WithLabelValues("ok").Inc()

	balance, err := s.ledger.Read(settleCtx, account.PlatformID)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Script: script, Balance: balance}, nil
}
