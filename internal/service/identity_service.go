package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTokenAttempts  = 5
	maxDisplayNameLen = 128
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidIdentifier reports whether s can be a platform id or an access token.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// IdentityService maps either identifier (platform id or access token) to
// exactly one account, creating it on first contact.
type IdentityService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	defaultBalance  int64
	log             *zap.Logger
}

func NewIdentityService(db *gorm.DB, defaultBalance int64, log *zap.Logger) *IdentityService {
	return &IdentityService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		defaultBalance:  defaultBalance,
		log:             log.Named("identity"),
	}
}

// Resolve looks the identifier up as a platform id, then as an access
// token. It never creates.
func (s *IdentityService) Resolve(ctx context.Context, identifier string) (*model.Account, error) {
	if !ValidIdentifier(identifier) {
		return nil, ErrInvalidIdentifier
	}
	account, err := s.accountRepo.GetByPlatformID(ctx, nil, identifier)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("lookup platform id: %w", err)
	}
	return s.ResolveByToken(ctx, identifier)
}

// ResolveByToken looks the identifier up as an access token only.
func (s *IdentityService) ResolveByToken(ctx context.Context, token string) (*model.Account, error) {
	account, err := s.accountRepo.GetByAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	return account, nil
}

// ResolveOrCreate resolves the identifier and, on a miss, creates an account
// keyed by it. An identifier shaped like an access token is never used as a
// new platform id: a miss on it is ErrNotFound.
func (s *IdentityService) ResolveOrCreate(ctx context.Context, identifier string) (*model.Account, error) {
	account, err := s.Resolve(ctx, identifier)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return account, err
	}
	if idgen.IsAccessTokenShaped(identifier) {
		return nil, ErrNotFound
	}
	return s.create(ctx, identifier)
}

// create inserts the account unless one appeared concurrently. A racing
// creator wins on the primary key and both callers end up with its row; a
// token collision leaves no row for the platform id and is retried with a
// fresh token.
func (s *IdentityService) create(ctx context.Context, platformID string) (*model.Account, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := idgen.AccessToken()
		if err != nil {
			return nil, fmt.Errorf("generate access token: %w", err)
		}
		account := &model.Account{
			PlatformID:  platformID,
			AccessToken: token,
			Balance:     s.defaultBalance,
		}

		var created bool
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			created, err = s.accountRepo.CreateIfAbsent(ctx, tx, account)
			if err != nil || !created || s.defaultBalance == 0 {
				return err
			}
			balance := s.defaultBalance
			return s.transactionRepo.Create(ctx, tx, &model.AccountTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				PlatformID:    platformID,
				Amount:        s.defaultBalance,
				Type:          model.TransactionTypeSignup,
				BalanceAfter:  &balance,
				Remark:        "signup grant",
			})
		})
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		if created {
			s.log.Info("account created", zap.String("platform_id", platformID), zap.Int64("balance", s.defaultBalance))
			return s.accountRepo.GetByPlatformID(ctx, nil, platformID)
		}

		existing, err := s.accountRepo.GetByPlatformID(ctx, nil, platformID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("reload account: %w", err)
		}
		s.log.Warn("access token collision, retrying", zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("create account %s: no unique access token after %d attempts", platformID, maxTokenAttempts)
}

// Touch records the display name seen on the messaging platform.
func (s *IdentityService) Touch(ctx context.Context, platformID, displayName string) error {
	if displayName == "" {
		return nil
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		displayName = string([]rune(displayName)[:maxDisplayNameLen])
	}
	return s.accountRepo.UpdateDisplayName(ctx, platformID, displayName)
}
