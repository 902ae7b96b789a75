package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/database"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/recon"
)

type sweepRequest struct {
	Limit  int  `json:"limit"`
	DryRun bool `json:"dry_run"`
}

// HandleReconciliationSweep triggers one full reconciliation pass. Sweeps
// are idempotent and run-key guarded, so a double trigger joins the running
// sweep instead of starting a second one.
func HandleReconciliationSweep(c *fiber.Ctx) error {
	var req sweepRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not parse request body"})
		}
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	summary, err := recon.NewOrchestratorFromDB(db).Sweep(c.Context(), req.Limit, req.DryRun)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reconciliation sweep failed"})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

// HandleListReconciliationIssues lists open findings for operators.
func HandleListReconciliationIssues(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	issues, err := recon.NewTrackerFromDB(db).OpenIssues(c.Context(), c.QueryInt("limit", 100))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not load issues"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"issues": issues, "count": len(issues)})
}
