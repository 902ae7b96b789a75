package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/cache"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/database"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/env"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/router"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/scheduler"
)

func main() {
	app := NewApplication()

	// Stop background jobs before the process exits so no payout batch is
	// cut off mid-transfer.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		scheduler.GetManager().Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	manager := scheduler.GetManager()
	manager.Setup(database.GetDB())
	manager.Start()

	app := fiber.New(fiber.Config{
		AppName: "FotoMarkt Ledger",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
