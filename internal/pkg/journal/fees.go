package journal

import (
	"strconv"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/env"
)

const defaultPlatformFeePercent = 20

// PlatformFeeMinor computes the platform's cut of a transaction. Only flows
// with a creator counterparty carry a fee; everything else settles in full.
func PlatformFeeMinor(tx *models.PaymentTransaction) int64 {
	switch tx.Kind {
	case models.FlowPhotoPurchase, models.FlowTip:
	default:
		return 0
	}

	percent := int64(defaultPlatformFeePercent)
	if raw := env.GetEnv("PLATFORM_FEE_PERCENT", ""); raw != "" {
		if p, err := strconv.ParseInt(raw, 10, 64); err == nil && p >= 0 && p <= 100 {
			percent = p
		}
	}
	return tx.AmountMinor * percent / 100
}
