package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/tokenworks/tokenbill/internal/pkg/database"
	"github.com/tokenworks/tokenbill/internal/pkg/subscription"
)

func subscriptionIDParam(c *fiber.Ctx) (string, bool) {
	id := strings.TrimSpace(c.Params("id"))
	return id, id != ""
}

func subscriptionErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "subscription not found"})
	case errors.Is(err, subscription.ErrPlanNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "plan not found"})
	case errors.Is(err, subscription.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "message": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "subscription operation failed"})
	}
}

// HandleCancelSubscription cancels a subscription, immediately or at period
// end depending on the request body.
func HandleCancelSubscription(c *fiber.Ctx) error {
	id, ok := subscriptionIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_subscription_id"})
	}

	var body struct {
		AtPeriodEnd bool `json:"at_period_end"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
		}
	}

	svc := newBillingService().Subscriptions()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sub, err := svc.Cancel(ctx, id, subscription.CancelOptions{AtPeriodEnd: body.AtPeriodEnd})
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "message": "subscription canceled", "subscription": sub})
}

// HandleResumeSubscription reactivates a canceled subscription whose paid
// period has not run out yet.
func HandleResumeSubscription(c *fiber.Ctx) error {
	id, ok := subscriptionIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_subscription_id"})
	}

	svc := newBillingService().Subscriptions()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sub, err := svc.Resume(ctx, id)
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "message": "subscription resumed", "subscription": sub})
}

// HandleChangePlan moves a subscription to another plan. Upgrades apply
// immediately with a prorated charge, downgrades take effect at renewal.
func HandleChangePlan(c *fiber.Ctx) error {
	id, ok := subscriptionIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_subscription_id"})
	}

	var body struct {
		PlanID uint `json:"plan_id" validate:"required"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	if err := validate.Struct(body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	svc := newBillingService().Subscriptions()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := svc.ChangePlan(ctx, id, body.PlanID, "")
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}

	message := "plan changed"
	if result.Deferred {
		message = "downgrade scheduled for next renewal"
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":        true,
		"message":        message,
		"subscription":   result.Subscription,
		"charge_cents":   result.ChargeCents,
		"remaining_days": result.Proration.RemainingDays,
		"deferred":       result.Deferred,
	})
}

// HandleGetUserSubscription returns the user's entitling subscription.
func HandleGetUserSubscription(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	repo := subscription.NewRepository(database.GetDB())
	sub, err := repo.GetEntitledSubscriptionByUser(uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "no active subscription"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "subscription lookup failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "subscription": sub})
}
