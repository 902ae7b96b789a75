package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/database"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/payouts"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/webhooks"
)

// HandleProviderWebhook ingests one gateway delivery. The contract with the
// providers: 200 means "never send this again", so the event is acknowledged
// as soon as it is durably claimed, even when domain processing fails (the
// event is marked failed for remediation). Only malformed payloads and bad
// signatures are rejected.
func HandleProviderWebhook(c *fiber.Ctx) error {
	provider, err := gateway.ParseProvider(c.Params("provider"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider", "message": "Unsupported payment provider"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	payload := c.Body()
	signature := c.Get(gateway.SignatureHeaderName(provider))

	processor := webhooks.NewProcessorFromDB(db, payouts.NewServiceFromDB(db))
	result, err := processor.Process(c.Context(), provider, payload, signature)
	if err != nil {
		if errors.Is(err, webhooks.ErrMalformedPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_payload", "message": "Could not parse webhook payload"})
		}
		// Claimed but failed during processing: acknowledge so the provider
		// stops retrying; reconciliation picks the event up.
		log.Errorf("[Webhooks] %s event processing failed: %v", provider, err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "processed": false})
	}

	if result.InvalidSignature {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": result.Duplicate})
}
