package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"github.com/tokenworks/tokenbill/internal/pkg/payments"
	"github.com/tokenworks/tokenbill/internal/pkg/subscription"
)

// Dispatch routes a verified webhook event to the matching billing operation.
// Events referencing entities we do not know are logged and acknowledged so
// the provider stops retrying; only real processing failures return an error.
func (s *Service) Dispatch(ctx context.Context, ev *payments.Event) (*OperationResult, error) {
	obj, err := payments.ParseEventObject(ev.Data.Object)
	if err != nil {
		return nil, fmt.Errorf("malformed event object: %w", err)
	}

	switch ev.Kind() {
	case payments.EventCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, ev, obj)

	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated:
		return s.handleSubscriptionSync(ctx, ev, obj)

	case payments.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev, obj)

	case payments.EventInvoicePaymentSucceeded:
		return s.handleInvoicePaid(ctx, ev, obj)

	case payments.EventInvoicePaymentFailed:
		return s.handleInvoiceFailed(ctx, ev, obj)

	default:
		log.Debugf("[Billing] Ignoring unhandled event type %s (%s)", ev.Type, ev.ID)
		return succeed("event type not handled"), nil
	}
}

// handleCheckoutCompleted splits on the session mode: subscription checkouts
// open a subscription, one-time payments credit the addons bucket.
func (s *Service) handleCheckoutCompleted(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	if obj.Mode == "subscription" {
		return s.checkoutSubscription(ctx, ev, obj)
	}
	return s.checkoutTokenPurchase(ctx, ev, obj)
}

func (s *Service) checkoutSubscription(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	subID := obj.Subscription
	if subID == "" {
		subID = obj.MetaString("subscription_id", "subscriptionId")
	}
	if subID == "" {
		log.Warnf("[Billing] Subscription checkout %s carries no subscription id, ignoring", ev.ID)
		return succeed("no subscription reference"), nil
	}

	userID := obj.MetaUint("userId", "user_id")
	planID := obj.MetaUint("planId", "plan_id")

	if userID != 0 && planID != 0 {
		sub, err := s.subs.Create(ctx, subscription.CreateInput{
			UserID:                 userID,
			PlanID:                 planID,
			ProviderSubscriptionID: subID,
			Status:                 models.SubscriptionStatusActive,
			IdempotencyKey:         ev.ID,
		})
		if err != nil {
			return s.ackOrFail(err, ev, subID)
		}
		res := succeed("subscription created")
		res.Subscription = sub
		return res, nil
	}

	// No plan metadata: fall back to price-id resolution via sync.
	sub, _, err := s.subs.SyncFromProvider(ctx, subscription.SyncInput{
		ProviderSubscriptionID: subID,
		EventID:                ev.ID,
		Status:                 models.SubscriptionStatusActive,
		PriceID:                obj.PriceID,
		UserID:                 userID,
	})
	if err != nil {
		return s.ackOrFail(err, ev, subID)
	}
	res := succeed("subscription created")
	res.Subscription = sub
	return res, nil
}

func (s *Service) checkoutTokenPurchase(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	userID := obj.MetaUint("userId", "user_id")
	if userID == 0 {
		log.Warnf("[Billing] Checkout %s carries no user metadata, ignoring", ev.ID)
		return succeed("no user reference"), nil
	}

	metadata := obj.Metadata
	amountCents := obj.AmountTotalCents
	if obj.PriceID != "" && s.prices != nil {
		if price, err := s.prices.GetPrice(ctx, obj.PriceID); err != nil {
			log.Warnf("[Billing] Price lookup failed for %s: %v", obj.PriceID, err)
		} else {
			for k, v := range price.Metadata {
				if _, ok := metadata[k]; !ok {
					metadata[k] = v
				}
			}
			if amountCents == 0 {
				amountCents = price.UnitAmountCents
			}
		}
	}

	// An explicit token amount in the session metadata overrides catalog
	// resolution.
	tokens := obj.MetaInt64("tokenAmount", "token_amount")
	if tokens <= 0 {
		tokens = s.catalog.Resolve(obj.PriceID, metadata, amountCents)
	}
	key := ev.ID
	if obj.ID != "" {
		// The session id survives event redelivery under a fresh event id.
		key = obj.ID
	}

	purchase, balance, err := s.tokens.Grant(ctx, userID, tokens, models.BucketAddons, ledger.PurchaseContext{
		IdempotencyKey:  key,
		Type:            models.PurchaseTypePurchase,
		ProviderPriceID: obj.PriceID,
		AmountCents:     amountCents,
		Currency:        obj.Currency,
	})
	if err != nil {
		return s.ackOrFail(err, ev, obj.ID)
	}

	res := succeed("tokens credited")
	res.Purchase = purchase
	res.Balances = balance
	return res, nil
}

func (s *Service) handleSubscriptionSync(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	sub, changed, err := s.subs.SyncFromProvider(ctx, subscription.SyncInput{
		ProviderSubscriptionID: obj.Subscription,
		EventID:                ev.ID,
		Status:                 obj.Status,
		PriceID:                obj.PriceID,
		CurrentPeriodEnd:       obj.CurrentPeriodEnd,
		CancelAt:               obj.CancelAt,
		UserID:                 obj.MetaUint("userId", "user_id"),
	})
	if err != nil {
		return s.ackOrFail(err, ev, obj.Subscription)
	}

	msg := "subscription unchanged"
	if changed {
		msg = "subscription synced"
	}
	res := succeed(msg)
	res.Subscription = sub
	return res, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	// The provider already terminated this subscription, so only local state
	// changes here.
	sub, err := s.subs.Cancel(ctx, obj.Subscription, subscription.CancelOptions{SkipProvider: true})
	if err != nil {
		return s.ackOrFail(err, ev, obj.Subscription)
	}
	res := succeed("subscription canceled")
	res.Subscription = sub
	return res, nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	if obj.Subscription == "" {
		return succeed("invoice without subscription"), nil
	}
	// The first invoice of a subscription is covered by the creation grant.
	if obj.BillingReason == "subscription_create" {
		return succeed("creation invoice, tokens already granted"), nil
	}

	sub, err := s.subs.RenewalSucceeded(ctx, obj.Subscription, ev.ID)
	if err != nil {
		return s.ackOrFail(err, ev, obj.Subscription)
	}
	res := succeed("renewal processed")
	res.Subscription = sub
	return res, nil
}

func (s *Service) handleInvoiceFailed(ctx context.Context, ev *payments.Event, obj *payments.EventObject) (*OperationResult, error) {
	if obj.Subscription == "" {
		return succeed("invoice without subscription"), nil
	}
	sub, err := s.subs.RenewalFailed(ctx, obj.Subscription, obj.AttemptCount)
	if err != nil {
		return s.ackOrFail(err, ev, obj.Subscription)
	}
	res := succeed("payment failure recorded")
	res.Subscription = sub
	return res, nil
}

// ackOrFail downgrades not-found conditions to a successful no-op: an event
// about an entity we never created (another environment, deleted user) is
// logged and acknowledged so the provider stops redelivering it. Everything
// else stays an error and lands in the event's processing_error column.
func (s *Service) ackOrFail(err error, ev *payments.Event, ref string) (*OperationResult, error) {
	if errors.Is(err, subscription.ErrSubscriptionNotFound) ||
		errors.Is(err, subscription.ErrPlanNotFound) ||
		errors.Is(err, ledger.ErrUserNotFound) {
		log.Warnf("[Billing] Event %s (%s) references unknown entity %q: %v", ev.ID, ev.Type, ref, err)
		return succeed("unknown entity, ignored"), nil
	}
	return nil, err
}
