package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/cache"
	"github.com/tokenworks/tokenbill/internal/pkg/env"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"gorm.io/gorm"
)

// ProviderClient is the payment-provider surface the state machine needs.
// *payments.StripeClient satisfies it.
type ProviderClient interface {
	CreateProrationInvoice(ctx context.Context, customerID string, amountCents int64, currency, description string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error
	ResumeSubscription(ctx context.Context, subscriptionID string) error
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error
}

// RetryEnqueuer queues failed provider calls for later replay.
type RetryEnqueuer interface {
	EnqueueProviderRetry(op, subscriptionID string, args map[string]string) error
}

// Service owns the subscription lifecycle. Local state changes always win
// over provider-call success: a failed provider call is logged and queued for
// retry, never used to roll back the local transition.
type Service struct {
	repo       Repository
	granter    *ledger.Service
	provider   ProviderClient
	retry      RetryEnqueuer
	dev        bool
	invalidate func(userID uint)
}

// NewService creates a subscription service from injected collaborators.
func NewService(repo Repository, granter *ledger.Service, provider ProviderClient) *Service {
	return &Service{repo: repo, granter: granter, provider: provider}
}

// NewServiceFromDB wires the service against a GORM handle with cache
// invalidation and env-mode price resolution.
func NewServiceFromDB(db *gorm.DB, provider ProviderClient) *Service {
	s := NewService(NewRepository(db), ledger.NewService(ledger.NewRepository(db)), provider)
	s.dev = env.IsDev()
	s.invalidate = func(userID uint) {
		_ = cache.Delete(cache.BalanceKey(userID))
	}
	return s
}

// SetRetryEnqueuer attaches the provider-call retry queue.
func (s *Service) SetRetryEnqueuer(r RetryEnqueuer) {
	s.retry = r
}

// CreateInput describes a new subscription.
type CreateInput struct {
	UserID                 uint
	PlanID                 uint
	ProviderSubscriptionID string
	Status                 string
	NextBillingDate        *time.Time
	IdempotencyKey         string
}

// CancelOptions control a cancellation. SkipProvider is used when the
// provider already terminated the subscription (webhook-driven deletion).
type CancelOptions struct {
	AtPeriodEnd  bool
	SkipProvider bool
}

// Create opens a subscription and grants the first cycle's tokens. Creating
// twice with the same provider subscription id is a no-op returning the
// existing row. The zero-price "Free" tier grants nothing to users who ever
// held a Free subscription before.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Subscription, error) {
	_ = ctx
	if in.UserID == 0 || in.PlanID == 0 || in.ProviderSubscriptionID == "" {
		return nil, errors.New("user_id, plan_id and provider_subscription_id are required")
	}

	var sub *models.Subscription
	err := s.repo.WithinTransaction(func(tx Repository) error {
		if existing, err := tx.GetSubscriptionForUpdate(in.ProviderSubscriptionID); err == nil {
			sub = existing
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if _, err := tx.GetUserByID(in.UserID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledger.ErrUserNotFound
			}
			return err
		}
		plan, err := tx.GetPlanByID(in.PlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}

		// Checked before this row exists so only prior Free stints count.
		skipGrant := false
		if plan.IsFreeTier() {
			had, err := tx.HasFreePlanSubscription(in.UserID)
			if err != nil {
				return err
			}
			skipGrant = had
		}

		status := in.Status
		if status != models.SubscriptionStatusActive && status != models.SubscriptionStatusTrialing {
			status = models.SubscriptionStatusActive
		}
		next := in.NextBillingDate
		if next == nil && plan.Interval != models.PlanIntervalOneTime {
			t := advanceByInterval(time.Now().UTC(), plan.Interval)
			next = &t
		}

		sub = &models.Subscription{
			UserID:                 in.UserID,
			PlanID:                 plan.ID,
			ProviderSubscriptionID: in.ProviderSubscriptionID,
			Status:                 status,
			NextBillingDate:        next,
		}
		if err := sub.SetChangeMeta(models.ChangeMeta{OriginalPlanID: plan.ID}); err != nil {
			return err
		}
		if err := tx.CreateSubscription(sub); err != nil {
			return err
		}

		if !skipGrant && plan.TokensPerCycle > 0 {
			key := in.IdempotencyKey
			if key == "" {
				key = "sub_create:" + in.ProviderSubscriptionID
			}
			planID := plan.ID
			if _, _, err := s.granter.GrantWithin(tx.Ledger(), in.UserID, plan.TokensPerCycle, models.BucketSubscription, ledger.PurchaseContext{
				IdempotencyKey:  key,
				Type:            models.PurchaseTypeSubscription,
				PlanID:          &planID,
				ProviderPriceID: plan.ProviderPriceID(s.dev),
				AmountCents:     plan.PriceCents,
				Currency:        plan.Currency,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(in.UserID)
	return sub, nil
}

// RenewalSucceeded processes a paid renewal: apply any pending downgrade,
// advance the billing date one interval, then replace the subscription bucket
// with the new cycle's allowance. Replays of the same event id are no-ops.
func (s *Service) RenewalSucceeded(ctx context.Context, providerSubscriptionID, eventID string) (*models.Subscription, error) {
	_ = ctx
	var sub *models.Subscription
	var userID uint
	err := s.repo.WithinTransaction(func(tx Repository) error {
		var err error
		sub, err = s.lockSubscription(tx, providerSubscriptionID)
		if err != nil {
			return err
		}
		userID = sub.UserID

		grantKey := renewalKey(providerSubscriptionID, eventID, sub.NextBillingDate)
		if _, err := tx.Ledger().FindPurchaseByKey(grantKey); err == nil {
			// Renewal already applied for this event.
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		meta, err := sub.ChangeMeta()
		if err != nil {
			return err
		}

		purchaseType := models.PurchaseTypeSubscriptionRenewal
		if meta.PendingPlanID != 0 {
			meta.History = append(meta.History, models.PlanChange{
				FromPlanID: sub.PlanID,
				ToPlanID:   meta.PendingPlanID,
				Kind:       models.PlanChangeKindDowngrade,
				ChangedAt:  time.Now().UTC(),
			})
			sub.PlanID = meta.PendingPlanID
			meta.PendingPlanID = 0
			purchaseType = models.PurchaseTypePlanChangeDowngrade
		}
		plan, err := tx.GetPlanByID(sub.PlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}

		// A fresh cycle starts: the plan in force now anchors future
		// prorations.
		meta.OriginalPlanID = plan.ID
		if err := sub.SetChangeMeta(meta); err != nil {
			return err
		}

		base := time.Now().UTC()
		if sub.NextBillingDate != nil && sub.NextBillingDate.After(base) {
			base = *sub.NextBillingDate
		}
		next := advanceByInterval(base, plan.Interval)
		sub.NextBillingDate = &next
		sub.Status = models.SubscriptionStatusActive
		sub.FailedPaymentAttempts = 0
		if err := tx.SaveSubscription(sub); err != nil {
			return err
		}

		if err := s.flushSubscriptionTokens(tx.Ledger(), sub.UserID, grantKey+":flush"); err != nil {
			return err
		}
		planID := plan.ID
		if plan.TokensPerCycle > 0 {
			if _, _, err := s.granter.GrantWithin(tx.Ledger(), sub.UserID, plan.TokensPerCycle, models.BucketSubscription, ledger.PurchaseContext{
				IdempotencyKey:  grantKey,
				Type:            purchaseType,
				PlanID:          &planID,
				ProviderPriceID: plan.ProviderPriceID(s.dev),
				AmountCents:     plan.PriceCents,
				Currency:        plan.Currency,
			}); err != nil {
				return err
			}
			return nil
		}
		// Plans without a token allowance grant nothing, but the replay
		// guard record at grantKey must exist either way or a redelivered
		// invoice would advance the billing date twice.
		currency := plan.Currency
		if currency == "" {
			currency = "usd"
		}
		return tx.Ledger().CreatePurchase(&models.Purchase{
			UserID:          sub.UserID,
			IdempotencyKey:  grantKey,
			PlanID:          &planID,
			ProviderPriceID: plan.ProviderPriceID(s.dev),
			AmountCents:     plan.PriceCents,
			Currency:        currency,
			Bucket:          models.BucketSubscription,
			Status:          models.PurchaseStatusCompleted,
			Type:            purchaseType,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(userID)
	return sub, nil
}

// RenewalFailed marks the subscription past_due from the second failed
// attempt on. The first failure is logged only.
func (s *Service) RenewalFailed(ctx context.Context, providerSubscriptionID string, attemptCount int) (*models.Subscription, error) {
	_ = ctx
	var sub *models.Subscription
	err := s.repo.WithinTransaction(func(tx Repository) error {
		var err error
		sub, err = s.lockSubscription(tx, providerSubscriptionID)
		if err != nil {
			return err
		}
		sub.FailedPaymentAttempts = attemptCount
		if attemptCount <= 1 {
			log.Warnf("[Subscription] Renewal payment failed (attempt %d) for subscription %s", attemptCount, providerSubscriptionID)
			return tx.SaveSubscription(sub)
		}
		sub.Status = models.SubscriptionStatusPastDue
		return tx.SaveSubscription(sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel ends a subscription. Immediate cancellation flushes the
// subscription bucket (addons preserved) and deactivates at the provider;
// period-end cancellation just schedules ends_at and lets the renewal/expiry
// path flush tokens when the period elapses.
func (s *Service) Cancel(ctx context.Context, providerSubscriptionID string, opts CancelOptions) (*models.Subscription, error) {
	var sub *models.Subscription
	var userID uint
	err := s.repo.WithinTransaction(func(tx Repository) error {
		var err error
		sub, err = s.lockSubscription(tx, providerSubscriptionID)
		if err != nil {
			return err
		}
		userID = sub.UserID

		if sub.Status == models.SubscriptionStatusCanceled {
			// Already canceled: webhook replays succeed without touching
			// anything.
			return nil
		}

		now := time.Now().UTC()
		sub.CanceledAt = &now
		if opts.AtPeriodEnd {
			ends := now
			if sub.NextBillingDate != nil {
				ends = *sub.NextBillingDate
			}
			sub.EndsAt = &ends
			return tx.SaveSubscription(sub)
		}

		sub.Status = models.SubscriptionStatusCanceled
		sub.EndsAt = &now
		if err := tx.SaveSubscription(sub); err != nil {
			return err
		}
		key := fmt.Sprintf("cancel:%s:%s", providerSubscriptionID, now.Format("2006-01-02"))
		return s.flushSubscriptionTokens(tx.Ledger(), sub.UserID, key)
	})
	if err != nil {
		return nil, err
	}

	if !opts.SkipProvider {
		s.providerCall(ctx, "cancel_subscription", providerSubscriptionID, map[string]string{
			"at_period_end": fmt.Sprintf("%t", opts.AtPeriodEnd),
		}, func() error {
			return s.provider.CancelSubscription(ctx, providerSubscriptionID, opts.AtPeriodEnd)
		})
	}

	s.invalidateBalance(userID)
	return sub, nil
}

// Resume reactivates a canceled subscription whose paid period has not yet
// run out.
func (s *Service) Resume(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.repo.WithinTransaction(func(tx Repository) error {
		var err error
		sub, err = s.lockSubscription(tx, providerSubscriptionID)
		if err != nil {
			return err
		}
		canceledPending := sub.Status == models.SubscriptionStatusCanceled ||
			(sub.IsEntitling() && sub.CanceledAt != nil)
		if !canceledPending {
			return fmt.Errorf("%w: only canceled subscriptions can be resumed", ErrInvalidState)
		}
		if sub.EndsAt == nil || !sub.EndsAt.After(time.Now().UTC()) {
			return fmt.Errorf("%w: subscription period already ended", ErrInvalidState)
		}
		sub.Status = models.SubscriptionStatusActive
		sub.CanceledAt = nil
		sub.EndsAt = nil
		return tx.SaveSubscription(sub)
	})
	if err != nil {
		return nil, err
	}

	s.providerCall(ctx, "resume_subscription", providerSubscriptionID, nil, func() error {
		return s.provider.ResumeSubscription(ctx, providerSubscriptionID)
	})
	return sub, nil
}

func (s *Service) lockSubscription(tx Repository, providerSubscriptionID string) (*models.Subscription, error) {
	sub, err := tx.GetSubscriptionForUpdate(providerSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// flushSubscriptionTokens zeroes the subscription bucket via a negative
// adjustment. Adjustments never trigger the referral cascade.
func (s *Service) flushSubscriptionTokens(lrepo ledger.Repository, userID uint, key string) error {
	bal, err := lrepo.GetBalanceForUpdate(userID)
	if err != nil {
		return err
	}
	if bal.SubscriptionToken == 0 {
		return nil
	}
	_, _, err = s.granter.GrantWithin(lrepo, userID, -bal.SubscriptionToken, models.BucketSubscription, ledger.PurchaseContext{
		IdempotencyKey: key,
		Type:           models.PurchaseTypePlanChange,
	})
	return err
}

// providerCall runs a provider API call after the local transaction has
// committed. Failures are logged and queued for retry; local state stands.
func (s *Service) providerCall(ctx context.Context, op, subscriptionID string, args map[string]string, fn func() error) {
	_ = ctx
	if s.provider == nil {
		return
	}
	if err := fn(); err != nil {
		log.Errorf("[Subscription] Provider call failed: op=%s subscription=%s err=%v", op, subscriptionID, err)
		if s.retry != nil {
			if qErr := s.retry.EnqueueProviderRetry(op, subscriptionID, args); qErr != nil {
				log.Errorf("[Subscription] Failed to enqueue provider retry: op=%s subscription=%s err=%v", op, subscriptionID, qErr)
			}
		}
	}
}

func (s *Service) invalidateBalance(userID uint) {
	if s.invalidate != nil {
		s.invalidate(userID)
	}
}

func advanceByInterval(from time.Time, interval string) time.Time {
	if interval == models.PlanIntervalYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

func renewalKey(providerSubscriptionID, eventID string, nextBillingDate *time.Time) string {
	if eventID != "" {
		return "renewal:" + eventID
	}
	period := int64(0)
	if nextBillingDate != nil {
		period = nextBillingDate.Unix()
	}
	return fmt.Sprintf("renewal:%s:%d", providerSubscriptionID, period)
}
