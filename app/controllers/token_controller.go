package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/cache"
	"github.com/tokenworks/tokenbill/internal/pkg/database"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
)

const balanceCacheTTL = 5 * time.Minute

// HandleGetBalance returns a user's bucket balances, served from the Redis
// snapshot when present.
func HandleGetBalance(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	key := cache.BalanceKey(uint(userID))
	if cached, err := cache.Get(key); err == nil && cached != "" {
		var balance models.TokenBalance
		if err := json.Unmarshal([]byte(cached), &balance); err == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"balances": balance, "total": balance.Total(), "cached": true})
		}
	}

	balance, err := models.GetOrCreateTokenBalance(database.GetDB(), uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "balance_lookup_failed"})
	}

	if data, err := json.Marshal(balance); err == nil {
		if err := cache.Set(key, data, balanceCacheTTL); err != nil {
			log.Warnf("[Tokens] Failed to cache balance for user %d: %v", userID, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"balances": balance, "total": balance.Total()})
}

// DeductRequest is the token consumption request body.
type DeductRequest struct {
	UserID       uint     `json:"user_id" validate:"required"`
	Amount       int64    `json:"amount" validate:"required,gt=0"`
	InputTokens  int64    `json:"input_tokens" validate:"gte=0"`
	OutputTokens int64    `json:"output_tokens" validate:"gte=0"`
	Priority     []string `json:"priority"`
}

// HandleDeductTokens consumes tokens across buckets in priority order.
func HandleDeductTokens(c *fiber.Ctx) error {
	var req DeductRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	svc := ledger.NewServiceFromDB(database.GetDB())
	breakdown, err := svc.Deduct(context.Background(), req.UserID, req.Amount, ledger.DeductOptions{
		PriorityOverride: req.Priority,
		InputTokens:      req.InputTokens,
		OutputTokens:     req.OutputTokens,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientTokens):
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"success": false, "message": "insufficient tokens"})
		case errors.Is(err, ledger.ErrUserNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "user not found"})
		case errors.Is(err, ledger.ErrInvalidBucket):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid bucket in priority override"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "deduction failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":   true,
		"message":   "tokens deducted",
		"deducted":  breakdown.Total,
		"by_bucket": breakdown.ByBucket,
		"balances":  breakdown.Balance,
	})
}
