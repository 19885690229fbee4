package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tokenworks/tokenbill/internal/pkg/billing"
	"github.com/tokenworks/tokenbill/internal/pkg/env"
	"github.com/tokenworks/tokenbill/internal/pkg/payments"
)

// HandleStripeWebhook receives provider webhooks: verify signature, persist
// with dedup, dispatch, record the outcome. Replays of a stored event id are
// acknowledged without reprocessing.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ev, err := payments.ParseEvent(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := newBillingService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	signatureValid := payments.VerifyStripeWebhookSignature(rawBody, signature, secret, time.Now())
	duplicate, stored, err := svc.RecordWebhookEvent(ev, rawBody, signatureValid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		svc.MarkProcessed(stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	result, dispatchErr := svc.Dispatch(ctx, ev)
	svc.MarkProcessed(stored.ID, dispatchErr)
	if dispatchErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "message": result.Message})
}

// HandleConfirmPurchase is the direct token purchase confirmation endpoint.
func HandleConfirmPurchase(c *fiber.Ctx) error {
	var in billing.ConfirmPurchaseInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	if err := validate.Struct(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	svc := newBillingService()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := svc.ConfirmPurchase(ctx, in)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
