package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tokenworks/tokenbill/internal/pkg/cache"
	"github.com/tokenworks/tokenbill/internal/pkg/database"
	"github.com/tokenworks/tokenbill/internal/pkg/env"
	"github.com/tokenworks/tokenbill/internal/pkg/jobqueue"
	"github.com/tokenworks/tokenbill/internal/pkg/payments"
	"github.com/tokenworks/tokenbill/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Retry queue for provider calls that failed after local commit.
	jobqueue.GetManager(payments.NewStripeClientFromEnv()).Start()

	app := fiber.New(fiber.Config{
		AppName: "tokenbill",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
