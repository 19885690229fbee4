package ledger

import (
	"context"
	"errors"

	"github.com/tokenworks/tokenbill/app/models"
	"gorm.io/gorm"
)

// Deduct consumes tokens across buckets in priority order. The deduction is
// all-or-nothing: when the combined balance is short, nothing is touched and
// ErrInsufficientTokens is returned.
func (s *Service) Deduct(ctx context.Context, userID uint, amount int64, opts DeductOptions) (*DeductionBreakdown, error) {
	_ = ctx
	if amount <= 0 {
		return nil, errors.New("deduction amount must be positive")
	}

	priority := models.DeductionPriority
	if len(opts.PriorityOverride) > 0 {
		for _, b := range opts.PriorityOverride {
			if !models.IsValidBucket(b) {
				return nil, ErrInvalidBucket
			}
		}
		priority = opts.PriorityOverride
	}

	var breakdown *DeductionBreakdown
	err := s.repo.WithinTransaction(func(tx Repository) error {
		if _, err := tx.GetUserByID(userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		bal, err := tx.GetBalanceForUpdate(userID)
		if err != nil {
			return err
		}
		if bal.Total() < amount {
			return ErrInsufficientTokens
		}

		byBucket := make(map[string]int64, len(priority))
		remaining := amount
		for _, bucket := range priority {
			if remaining == 0 {
				break
			}
			take := bal.Bucket(bucket)
			if take > remaining {
				take = remaining
			}
			if take == 0 {
				continue
			}
			bal.AddToBucket(bucket, -take)
			byBucket[bucket] = take
			remaining -= take
		}
		// A narrowed priority override can cover less than the full balance.
		if remaining > 0 {
			return ErrInsufficientTokens
		}
		if err := tx.SaveBalance(bal); err != nil {
			return err
		}

		// Usage analytics only; estimated 20/80 split when the caller gives
		// no exact figures.
		input, output := opts.InputTokens, opts.OutputTokens
		if input == 0 && output == 0 {
			input = amount * 20 / 100
			output = amount - input
		}
		usage := &models.TokenUsage{
			UserID:                userID,
			TotalTokens:           amount,
			InputTokens:           input,
			OutputTokens:          output,
			FromRegistrationToken: byBucket[models.BucketRegistration],
			FromFreeToken:         byBucket[models.BucketFree],
			FromSubscriptionToken: byBucket[models.BucketSubscription],
			FromAddonsToken:       byBucket[models.BucketAddons],
		}
		if err := tx.CreateTokenUsage(usage); err != nil {
			return err
		}

		breakdown = &DeductionBreakdown{
			Total:    amount,
			ByBucket: byBucket,
			Balance:  bal,
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err)
	}

	s.invalidateBalance(userID)
	return breakdown, nil
}
