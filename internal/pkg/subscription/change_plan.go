package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"gorm.io/gorm"
)

// ChangeResult reports the outcome of a plan change.
type ChangeResult struct {
	Subscription *models.Subscription
	Proration    Proration
	ChargeCents  int64
	// Deferred is true for downgrades: the plan swap waits for the next
	// renewal.
	Deferred bool
}

// ChangePlan moves a subscription to another plan. Proration is always
// computed against the plan paid for at cycle start (the original plan), so
// chained upgrades within one cycle never compound. Upgrades and same-price
// swaps apply immediately; downgrades are stored as a pending target and
// applied at the next renewal. Changing to the current (or already pending)
// plan is a no-op success, which makes provider-echoed webhooks safe.
func (s *Service) ChangePlan(ctx context.Context, providerSubscriptionID string, newPlanID uint, eventID string) (*ChangeResult, error) {
	if newPlanID == 0 {
		return nil, ErrPlanNotFound
	}

	result := &ChangeResult{}
	var customerID, currency string
	var invoiceCharge int64
	var newPriceID string
	var userID uint

	err := s.repo.WithinTransaction(func(tx Repository) error {
		sub, err := s.lockSubscription(tx, providerSubscriptionID)
		if err != nil {
			return err
		}
		result.Subscription = sub
		userID = sub.UserID

		if !sub.IsEntitling() {
			return fmt.Errorf("%w: plan changes require an active subscription", ErrInvalidState)
		}

		meta, err := sub.ChangeMeta()
		if err != nil {
			return err
		}
		if newPlanID == sub.PlanID || newPlanID == meta.PendingPlanID {
			return nil
		}

		currentPlan, err := tx.GetPlanByID(sub.PlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}
		newPlan, err := tx.GetPlanByID(newPlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}

		originalPlanID := meta.OriginalPlanID
		if originalPlanID == 0 {
			originalPlanID = sub.PlanID
		}
		originalPlan, err := tx.GetPlanByID(originalPlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}

		now := time.Now().UTC()
		result.Proration = RemainingValue(sub.NextBillingDate, originalPlan, now)
		result.ChargeCents = NewChargeCents(newPlan.PriceCents, result.Proration)

		user, err := tx.GetUserByID(sub.UserID)
		if err != nil {
			return err
		}
		customerID = user.StripeCustomerID
		currency = newPlan.Currency
		newPriceID = newPlan.ProviderPriceID(s.dev)

		grantKey := eventID
		if grantKey == "" {
			grantKey = fmt.Sprintf("plan_change:%s:%d:%s", providerSubscriptionID, newPlanID, now.Format("2006-01-02"))
		}

		switch {
		case newPlan.PriceCents == currentPlan.PriceCents:
			// Lateral move: swap now, re-grant only when the allowance
			// differs.
			meta.History = append(meta.History, models.PlanChange{
				FromPlanID: sub.PlanID,
				ToPlanID:   newPlan.ID,
				Kind:       models.PlanChangeKindSwap,
				ChangedAt:  now,
			})
			sub.PlanID = newPlan.ID
			meta.OriginalPlanID = originalPlanID
			if err := sub.SetChangeMeta(meta); err != nil {
				return err
			}
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
			result.ChargeCents = 0
			if newPlan.TokensPerCycle != currentPlan.TokensPerCycle {
				return s.regrantCycleTokens(tx, sub, newPlan, grantKey, models.PurchaseTypePlanChange)
			}
			return nil

		case newPlan.PriceCents > currentPlan.PriceCents:
			meta.History = append(meta.History, models.PlanChange{
				FromPlanID: sub.PlanID,
				ToPlanID:   newPlan.ID,
				Kind:       models.PlanChangeKindUpgrade,
				ChangedAt:  now,
			})
			sub.PlanID = newPlan.ID
			// The anchor survives chained upgrades.
			meta.OriginalPlanID = originalPlanID
			if err := sub.SetChangeMeta(meta); err != nil {
				return err
			}
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
			invoiceCharge = result.ChargeCents
			return s.regrantCycleTokens(tx, sub, newPlan, grantKey, models.PurchaseTypePlanUpgrade)

		default:
			// Downgrade: same proration and invoicing, but the plan and
			// tokens stay put until the renewal applies the pending target.
			meta.PendingPlanID = newPlan.ID
			meta.OriginalPlanID = originalPlanID
			if err := sub.SetChangeMeta(meta); err != nil {
				return err
			}
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
			result.Deferred = true
			invoiceCharge = result.ChargeCents
			// The provider price follows at the renewal that applies the
			// pending plan, not now.
			newPriceID = ""
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if invoiceCharge > 0 {
		s.providerCall(ctx, "proration_invoice", providerSubscriptionID, map[string]string{
			"customer_id": customerID,
			"amount":      fmt.Sprintf("%d", invoiceCharge),
			"currency":    currency,
		}, func() error {
			_, err := s.provider.CreateProrationInvoice(ctx, customerID, invoiceCharge, currency, "Plan change proration")
			return err
		})
	}
	if newPriceID != "" {
		s.providerCall(ctx, "update_subscription_price", providerSubscriptionID, map[string]string{
			"price_id": newPriceID,
		}, func() error {
			return s.provider.UpdateSubscriptionPrice(ctx, providerSubscriptionID, newPriceID)
		})
	}

	s.invalidateBalance(userID)
	return result, nil
}

// regrantCycleTokens flushes the subscription bucket and grants the new
// plan's allowance inside the open transaction.
func (s *Service) regrantCycleTokens(tx Repository, sub *models.Subscription, plan *models.Plan, grantKey, purchaseType string) error {
	if err := s.flushSubscriptionTokens(tx.Ledger(), sub.UserID, grantKey+":flush"); err != nil {
		return err
	}
	if plan.TokensPerCycle <= 0 {
		return nil
	}
	planID := plan.ID
	_, _, err := s.granter.GrantWithin(tx.Ledger(), sub.UserID, plan.TokensPerCycle, models.BucketSubscription, ledger.PurchaseContext{
		IdempotencyKey:  grantKey,
		Type:            purchaseType,
		PlanID:          &planID,
		ProviderPriceID: plan.ProviderPriceID(s.dev),
		AmountCents:     plan.PriceCents,
		Currency:        plan.Currency,
	})
	return err
}
