package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/cache"
	"gorm.io/gorm"
)

// Service is the token ledger engine. Every grant and deduction runs inside a
// single transaction: balance mutation and purchase record either both commit
// or neither does.
type Service struct {
	repo       Repository
	invalidate func(userID uint)
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle with
// balance cache invalidation wired in.
func NewServiceFromDB(db *gorm.DB) *Service {
	s := NewService(NewRepository(db))
	s.invalidate = func(userID uint) {
		_ = cache.Delete(cache.BalanceKey(userID))
	}
	return s
}

// SynthesizeIdempotencyKey derives a deterministic key from the grant type,
// user and hour bucket. Clients that retry without a provider session id land
// on the same key instead of producing unbounded duplicate grants.
func SynthesizeIdempotencyKey(purchaseType string, userID uint, at time.Time) string {
	return fmt.Sprintf("%s:%d:%d", purchaseType, userID, at.UTC().Truncate(time.Hour).Unix())
}

// Grant credits (amount > 0) or adjusts (amount < 0) one bucket and records
// the purchase. A grant whose idempotency key already exists is a no-op that
// returns the existing record. Credits trigger the referral cascade within
// the same transaction.
func (s *Service) Grant(ctx context.Context, userID uint, amount int64, bucket string, pctx PurchaseContext) (*models.Purchase, *models.TokenBalance, error) {
	_ = ctx
	if !models.IsValidBucket(bucket) {
		return nil, nil, ErrInvalidBucket
	}
	if amount == 0 {
		return nil, nil, errors.New("token amount must be non-zero")
	}
	if pctx.IdempotencyKey == "" {
		pctx.IdempotencyKey = SynthesizeIdempotencyKey(pctx.Type, userID, time.Now())
	}

	var purchase *models.Purchase
	var balance *models.TokenBalance
	err := s.repo.WithinTransaction(func(tx Repository) error {
		var err error
		purchase, balance, err = s.grantTx(tx, userID, amount, bucket, pctx, true)
		return err
	})
	if err != nil {
		return nil, nil, s.mapError(err)
	}

	s.invalidateBalance(userID)
	if purchase.ReferrerUserID != nil {
		s.invalidateBalance(*purchase.ReferrerUserID)
	}
	return purchase, balance, nil
}

// GrantWithin performs a grant inside a transaction scope owned by the
// caller, for transitions that combine subscription and ledger writes into
// one atomic unit. Balance cache invalidation is the caller's responsibility
// after the outer commit.
func (s *Service) GrantWithin(tx Repository, userID uint, amount int64, bucket string, pctx PurchaseContext) (*models.Purchase, *models.TokenBalance, error) {
	if !models.IsValidBucket(bucket) {
		return nil, nil, ErrInvalidBucket
	}
	if amount == 0 {
		return nil, nil, errors.New("token amount must be non-zero")
	}
	if pctx.IdempotencyKey == "" {
		pctx.IdempotencyKey = SynthesizeIdempotencyKey(pctx.Type, userID, time.Now())
	}
	return s.grantTx(tx, userID, amount, bucket, pctx, true)
}

// grantTx performs a grant inside an open transaction scope. The cascade flag
// stops referral rewards from cascading off cascade-generated grants.
func (s *Service) grantTx(tx Repository, userID uint, amount int64, bucket string, pctx PurchaseContext, cascade bool) (*models.Purchase, *models.TokenBalance, error) {
	// Retried webhooks and duplicate verification calls land here: same key,
	// existing record, no second mutation.
	if existing, err := tx.FindPurchaseByKey(pctx.IdempotencyKey); err == nil {
		bal, balErr := tx.GetBalanceForUpdate(userID)
		if balErr != nil {
			return nil, nil, balErr
		}
		return existing, bal, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	if _, err := tx.GetUserByID(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}

	bal, err := tx.GetBalanceForUpdate(userID)
	if err != nil {
		return nil, nil, err
	}
	if !bal.AddToBucket(bucket, amount) {
		return nil, nil, ErrInsufficientTokens
	}
	if err := tx.SaveBalance(bal); err != nil {
		return nil, nil, err
	}

	status := pctx.Status
	if status == "" {
		status = models.PurchaseStatusCompleted
	}
	currency := pctx.Currency
	if currency == "" {
		currency = "usd"
	}
	purchase := &models.Purchase{
		UserID:          userID,
		IdempotencyKey:  pctx.IdempotencyKey,
		PlanID:          pctx.PlanID,
		ProviderPriceID: pctx.ProviderPriceID,
		AmountCents:     pctx.AmountCents,
		Currency:        currency,
		TokensGranted:   amount,
		Bucket:          bucket,
		Status:          status,
		Type:            pctx.Type,
	}
	// Addon credits carry a 1-year expiry stamp. Enforcement is left to an
	// external sweep, not this engine.
	if bucket == models.BucketAddons && amount > 0 {
		expires := time.Now().UTC().AddDate(1, 0, 0)
		purchase.ExpiresAt = &expires
	}
	if err := tx.CreatePurchase(purchase); err != nil {
		return nil, nil, err
	}

	if cascade && amount > 0 {
		if err := s.runCascade(tx, purchase); err != nil {
			return nil, nil, err
		}
	}

	return purchase, bal, nil
}

func (s *Service) invalidateBalance(userID uint) {
	if s.invalidate != nil {
		s.invalidate(userID)
	}
}

// mapError converts storage-level failures into the ledger error taxonomy.
// Typed sentinels pass through untouched.
func (s *Service) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInsufficientTokens),
		errors.Is(err, ErrInvalidBucket):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}
