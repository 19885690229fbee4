package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/tokenworks/tokenbill/app/models"
	"gorm.io/gorm"
)

// SyncInput is the normalized shape of a provider subscription event. Zero
// values mean "no change"; webhooks routinely omit fields.
type SyncInput struct {
	ProviderSubscriptionID string
	EventID                string
	Status                 string
	PriceID                string
	CurrentPeriodEnd       *time.Time
	CancelAt               *time.Time
	// UserID comes from event metadata and is only needed when the event
	// references a subscription we have not seen yet.
	UserID uint
}

// SyncFromProvider applies a webhook-driven subscription update. An event
// reporting no net change (same status, same plan) succeeds without writing
// anything, so provider retries are harmless. Unknown subscriptions are
// created when the event carries enough metadata, otherwise
// ErrSubscriptionNotFound bubbles up for the dispatcher to log and ignore.
func (s *Service) SyncFromProvider(ctx context.Context, in SyncInput) (*models.Subscription, bool, error) {
	if in.ProviderSubscriptionID == "" {
		return nil, false, errors.New("provider subscription id is required")
	}

	var sub *models.Subscription
	var pendingPlanChange uint
	changed := false

	err := s.repo.WithinTransaction(func(tx Repository) error {
		var err error
		sub, err = tx.GetSubscriptionForUpdate(in.ProviderSubscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSubscriptionNotFound
			}
			return err
		}

		if in.Status != "" && isKnownStatus(in.Status) && in.Status != sub.Status {
			sub.Status = in.Status
			if in.Status == models.SubscriptionStatusCanceled && sub.CanceledAt == nil {
				now := time.Now().UTC()
				sub.CanceledAt = &now
			}
			changed = true
		}
		if in.CurrentPeriodEnd != nil &&
			(sub.NextBillingDate == nil || !sub.NextBillingDate.Equal(*in.CurrentPeriodEnd)) {
			sub.NextBillingDate = in.CurrentPeriodEnd
			changed = true
		}
		if in.CancelAt != nil && (sub.EndsAt == nil || !sub.EndsAt.Equal(*in.CancelAt)) {
			sub.EndsAt = in.CancelAt
			changed = true
		}

		if in.PriceID != "" {
			plan, err := tx.GetPlanByProviderPriceID(in.PriceID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err == nil && plan.ID != sub.PlanID {
				pendingPlanChange = plan.ID
			}
		}

		if !changed {
			return nil
		}
		return tx.SaveSubscription(sub)
	})

	if errors.Is(err, ErrSubscriptionNotFound) && in.UserID != 0 && in.PriceID != "" {
		return s.createFromSync(ctx, in)
	}
	if err != nil {
		return nil, false, err
	}

	// Plan changes detected from the provider side run through the same
	// change logic; it no-ops on echoes of changes we initiated.
	if pendingPlanChange != 0 {
		if _, err := s.ChangePlan(ctx, in.ProviderSubscriptionID, pendingPlanChange, in.EventID); err != nil {
			return nil, changed, err
		}
		changed = true
	}

	return sub, changed, nil
}

func (s *Service) createFromSync(ctx context.Context, in SyncInput) (*models.Subscription, bool, error) {
	var planID uint
	err := s.repo.WithinTransaction(func(tx Repository) error {
		plan, err := tx.GetPlanByProviderPriceID(in.PriceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}
		planID = plan.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	sub, err := s.Create(ctx, CreateInput{
		UserID:                 in.UserID,
		PlanID:                 planID,
		ProviderSubscriptionID: in.ProviderSubscriptionID,
		Status:                 in.Status,
		NextBillingDate:        in.CurrentPeriodEnd,
		IdempotencyKey:         in.EventID,
	})
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func isKnownStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid:
		return true
	default:
		return false
	}
}
