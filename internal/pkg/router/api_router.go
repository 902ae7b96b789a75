package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/MaxRichter/FotoMarkt/app/controllers"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 300}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "FotoMarkt ledger API",
		})
	})

	v1 := api.Group("/v1")

	// Gateway deliveries carry their own signatures, no other auth.
	v1.Post("/webhooks/:provider", controllers.HandleProviderWebhook)

	v1.Post("/payouts", controllers.HandleManualPayout)

	admin := v1.Group("/admin", middleware.OpsSecretMiddleware())
	admin.Post("/reconciliation/sweep", controllers.HandleReconciliationSweep)
	admin.Get("/reconciliation/issues", controllers.HandleListReconciliationIssues)
	admin.Post("/payouts/process", controllers.HandleProcessPayoutBatch)
	admin.Post("/payouts/retry", controllers.HandleRetryFailedPayouts)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
