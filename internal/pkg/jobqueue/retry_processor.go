package jobqueue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
)

// processProviderRetryJob replays a payment-provider call that failed after
// its local transaction committed. The ops are idempotent on the provider
// side, so a replay of an already-applied call is harmless.
func (q *Queue) processProviderRetryJob(ctx context.Context, job *Job) error {
	if q.provider == nil {
		return fmt.Errorf("no provider client configured")
	}

	payload, err := ProviderRetryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid provider retry payload: %w", err)
	}
	args := payload.Args
	if args == nil {
		args = map[string]string{}
	}

	switch payload.Op {
	case "cancel_subscription":
		atPeriodEnd := args["at_period_end"] == "true"
		return q.provider.CancelSubscription(ctx, payload.SubscriptionID, atPeriodEnd)

	case "resume_subscription":
		return q.provider.ResumeSubscription(ctx, payload.SubscriptionID)

	case "update_subscription_price":
		priceID := args["price_id"]
		if priceID == "" {
			return fmt.Errorf("update_subscription_price retry without price_id")
		}
		return q.provider.UpdateSubscriptionPrice(ctx, payload.SubscriptionID, priceID)

	case "proration_invoice":
		amount, err := strconv.ParseInt(args["amount"], 10, 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("proration_invoice retry with invalid amount %q", args["amount"])
		}
		invoiceID, err := q.provider.CreateProrationInvoice(ctx, args["customer_id"], amount, args["currency"], "Plan change proration")
		if err != nil {
			return err
		}
		log.Infof("[JobQueue] Replayed proration invoice %s for subscription %s", invoiceID, payload.SubscriptionID)
		return nil

	default:
		return fmt.Errorf("unknown provider retry op: %s", payload.Op)
	}
}
