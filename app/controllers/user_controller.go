package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/database"
)

var errEmailTaken = errors.New("email already registered")

// CreateUserRequest is the signup request body. The referral code is
// optional; an unknown code is logged and ignored rather than failing the
// signup.
type CreateUserRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

// HandleCreateUser registers a user with a hashed password, a fresh referral
// code and a zeroed token balance, and links them to their referrer when a
// valid code is supplied.
func HandleCreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errEmailTaken
		}

		var referrer *models.User
		if req.ReferralCode != "" {
			var ref models.User
			switch err := tx.Where("referral_code = ?", req.ReferralCode).First(&ref).Error; {
			case err == nil:
				referrer = &ref
			case errors.Is(err, gorm.ErrRecordNotFound):
				log.Warnf("[Users] Signup with unknown referral code %q, ignoring", req.ReferralCode)
			default:
				return err
			}
		}
		if referrer != nil {
			user.ReferredByUserID = &referrer.ID
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if _, err := models.GetOrCreateTokenBalance(tx, user.ID); err != nil {
			return err
		}

		if referrer != nil {
			return tx.Create(&models.Referral{
				ReferrerUserID: referrer.ID,
				ReferredUserID: user.ID,
				Code:           referrer.ReferralCode,
			}).Error
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken"})
		}
		log.Errorf("[Users] Failed to create user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user_creation_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": "user created", "user": user})
}
