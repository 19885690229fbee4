package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/tokenworks/tokenbill/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")

	v1.Post("/users", controllers.HandleCreateUser)
	v1.Get("/users/:id/balance", controllers.HandleGetBalance)
	v1.Get("/users/:id/subscription", controllers.HandleGetUserSubscription)
	v1.Post("/tokens/deduct", controllers.HandleDeductTokens)
	v1.Post("/purchases/confirm", controllers.HandleConfirmPurchase)
	v1.Post("/subscriptions/:id/cancel", controllers.HandleCancelSubscription)
	v1.Post("/subscriptions/:id/resume", controllers.HandleResumeSubscription)
	v1.Post("/subscriptions/:id/change-plan", controllers.HandleChangePlan)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
