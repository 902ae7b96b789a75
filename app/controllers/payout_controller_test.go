package controllers

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/payouts"
)

func TestManualPayoutResponseCarriesKeyAndReplayFlag(t *testing.T) {
	payout := &models.Payout{
		ID: 5, IdentityKey: "manual:3:abc",
		Status: models.PayoutStatusCompleted, AmountMinor: 1500, Currency: "USD",
	}

	status, body := manualPayoutResponse(payout, "abc", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "abc", body["idempotency_key"])
	assert.Equal(t, false, body["replayed"])
	assert.Equal(t, "manual:3:abc", body["identity_key"])
}

func TestManualPayoutResponseErrorsCarryKeyAndReplayFlag(t *testing.T) {
	status, body := manualPayoutResponse(nil, "abc", payouts.ErrInsufficientBalance)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_balance", body["error"])
	assert.Equal(t, "abc", body["idempotency_key"])
	assert.Equal(t, false, body["replayed"])

	status, body = manualPayoutResponse(nil, "abc", payouts.ErrPayoutInFlight)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "payout_in_flight", body["error"])
	assert.Equal(t, "abc", body["idempotency_key"])
}
