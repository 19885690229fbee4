package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tokenworks/tokenbill/app/controllers"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
