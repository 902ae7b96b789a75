package controllers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/database"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/idempotency"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/payouts"
)

type manualPayoutRequest struct {
	WalletID       uint   `json:"wallet_id" validate:"required"`
	AmountMinor    int64  `json:"amount_minor" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

func (r *manualPayoutRequest) Validate() error {
	return validator.New().Struct(r)
}

// HandleManualPayout triggers one payout for a wallet. The client must send
// an idempotency key (Idempotency-Key header, or the body field; the header
// wins, and disagreeing values are rejected). The key is claimed before any
// gateway call, so a retried request can never produce a second transfer:
// replays return the stored response, in-flight duplicates get 409.
func HandleManualPayout(c *fiber.Ctx) error {
	var req manualPayoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not parse request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	headerKey := c.Get("Idempotency-Key")
	if headerKey != "" && req.IdempotencyKey != "" && headerKey != req.IdempotencyKey {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "idempotency_key_mismatch", "message": "Idempotency-Key header and body field disagree"})
	}
	key := headerKey
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_idempotency_key", "message": "An idempotency key is required"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	// The hash covers the operation parameters, not the raw body, so header
	// vs. body key placement does not change it.
	canonical, _ := json.Marshal(fiber.Map{"wallet_id": req.WalletID, "amount_minor": req.AmountMinor})
	store := idempotency.NewStoreFromDB(db)
	claim, err := store.Claim(c.Context(), idempotency.ScopeManualPayout, req.WalletID, key, idempotency.HashRequest(canonical))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not register idempotency key"})
	}

	switch {
	case claim.HashMismatch:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "idempotency_key_reused", "message": "This idempotency key was used with a different payload", "idempotency_key": key, "replayed": false})
	case claim.InFlight:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "request_in_flight", "message": "A request with this idempotency key is still processing", "idempotency_key": key, "replayed": false})
	case claim.Replayed:
		c.Response().Header.Set("X-Idempotent-Replay", "true")
		var replay fiber.Map
		if err := json.Unmarshal([]byte(claim.Record.ResponsePayload), &replay); err != nil {
			replay = fiber.Map{"idempotency_key": key}
		}
		replay["replayed"] = true
		return c.Status(claim.Record.ResponseCode).JSON(replay)
	}

	svc := payouts.NewServiceFromDB(db)
	payout, err := svc.ProcessPayout(c.Context(), req.WalletID, req.AmountMinor, manualIdentityKey(req.WalletID, key))
	status, body := manualPayoutResponse(payout, key, err)

	rawBody, _ := json.Marshal(body)
	finalStatus := models.IdempotencyStatusCompleted
	if status >= fiber.StatusInternalServerError {
		// A 5xx outcome finalizes failed; Claim reclaims failed keys, so the
		// client's retry under the same key runs the operation again.
		finalStatus = models.IdempotencyStatusFailed
	}
	if err := store.Finalize(c.Context(), idempotency.ScopeManualPayout, req.WalletID, key, finalStatus, status, string(rawBody), ""); err != nil {
		log.Errorf("[Payouts] could not finalize idempotency key %s: %v", key, err)
	}
	return c.Status(status).JSON(body)
}

// manualIdentityKey scopes the gateway-side identity to the wallet and the
// client key, matching the idempotency claim dimensions.
func manualIdentityKey(walletID uint, key string) string {
	return fmt.Sprintf("manual:%d:%s", walletID, key)
}

// manualPayoutResponse builds the response body. Every body carries the
// idempotency key and replayed=false; a replay re-serves the stored body
// with replayed flipped to true.
func manualPayoutResponse(payout *models.Payout, key string, err error) (int, fiber.Map) {
	if err != nil {
		status, body := manualPayoutError(err)
		body["idempotency_key"] = key
		body["replayed"] = false
		return status, body
	}
	return fiber.StatusOK, fiber.Map{
		"payout_id":       payout.ID,
		"identity_key":    payout.IdentityKey,
		"status":          payout.Status,
		"amount_minor":    payout.AmountMinor,
		"currency":        payout.Currency,
		"idempotency_key": key,
		"replayed":        false,
	}
}

func manualPayoutError(err error) (int, fiber.Map) {
	switch {
	case errors.Is(err, payouts.ErrInsufficientBalance):
		return fiber.StatusUnprocessableEntity, fiber.Map{"error": "insufficient_balance", "message": "Wallet balance does not cover the payout"}
	case errors.Is(err, payouts.ErrWalletNotPayable):
		return fiber.StatusUnprocessableEntity, fiber.Map{"error": "wallet_not_payable", "message": "Wallet has no payout provider or recipient configured"}
	case errors.Is(err, payouts.ErrPayoutInFlight):
		return fiber.StatusConflict, fiber.Map{"error": "payout_in_flight", "message": "This payout is already being processed"}
	case errors.Is(err, payouts.ErrInvalidPayout):
		return fiber.StatusBadRequest, fiber.Map{"error": "invalid_request", "message": err.Error()}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": "not_found", "message": "Wallet not found"}
	default:
		return fiber.StatusBadGateway, fiber.Map{"error": "transfer_failed", "message": err.Error()}
	}
}

// HandleProcessPayoutBatch runs one payout batch for the mode query param
// (threshold, daily, weekly, monthly). Batches carry deterministic identity
// keys, so re-running is safe and needs no client idempotency key.
func HandleProcessPayoutBatch(c *fiber.Ctx) error {
	mode := c.Query("mode", payouts.ModeThreshold)

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	result, err := payouts.NewServiceFromDB(db).ProcessPendingPayouts(c.Context(), mode, 500)
	if err != nil {
		if errors.Is(err, payouts.ErrInvalidPayout) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Payout batch failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"mode":      mode,
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

// HandleRetryFailedPayouts re-runs failed payouts under their original
// identity keys.
func HandleRetryFailedPayouts(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	result, err := payouts.NewServiceFromDB(db).RetryFailedPayouts(c.Context(), 500)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Payout retry failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}
