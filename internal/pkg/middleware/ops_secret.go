package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/env"
)

// OpsSecretMiddleware protects operational endpoints with a shared secret
// carried in the X-Ops-Secret header. With no OPS_SECRET configured the
// endpoints are disabled entirely rather than left open.
func OpsSecretMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := env.GetEnv("OPS_SECRET", "")
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "ops_disabled", "message": "Operational endpoints are not configured"})
		}

		provided := c.Get("X-Ops-Secret")
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid ops secret"})
		}
		return c.Next()
	}
}
