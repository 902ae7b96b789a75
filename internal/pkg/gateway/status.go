package gateway

import (
	"strings"

	"github.com/MaxRichter/FotoMarkt/app/models"
)

// MapSubscriptionStatus maps a provider-native subscription status onto the
// local lifecycle. The second return is false for statuses we do not know;
// reconciliation skips those rows instead of guessing.
func MapSubscriptionStatus(p Provider, providerStatus string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	switch p {
	case ProviderStripe:
		return mapStripeSubscriptionStatus(s)
	case ProviderPaystack:
		return mapPaystackSubscriptionStatus(s)
	case ProviderFlutterwave:
		return mapFlutterwaveSubscriptionStatus(s)
	case ProviderMpesa:
		// No native recurring billing; there is nothing to map.
		return "", false
	default:
		return "", false
	}
}

func mapStripeSubscriptionStatus(s string) (string, bool) {
	switch s {
	case "active":
		return models.SubscriptionStatusActive, true
	case "trialing":
		return models.SubscriptionStatusTrialing, true
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue, true
	case "canceled":
		return models.SubscriptionStatusCanceled, true
	case "incomplete_expired":
		return models.SubscriptionStatusExpired, true
	default:
		return "", false
	}
}

func mapPaystackSubscriptionStatus(s string) (string, bool) {
	switch s {
	case "active":
		return models.SubscriptionStatusActive, true
	case "non-renewing":
		return models.SubscriptionStatusActive, true
	case "attention":
		return models.SubscriptionStatusPastDue, true
	case "cancelled", "canceled":
		return models.SubscriptionStatusCanceled, true
	case "completed":
		return models.SubscriptionStatusExpired, true
	default:
		return "", false
	}
}

func mapFlutterwaveSubscriptionStatus(s string) (string, bool) {
	switch s {
	case "active":
		return models.SubscriptionStatusActive, true
	case "cancelled", "canceled":
		return models.SubscriptionStatusCanceled, true
	case "expired":
		return models.SubscriptionStatusExpired, true
	default:
		return "", false
	}
}

// IsChargeSucceeded reports whether a provider-native charge status means the
// money actually moved.
func IsChargeSucceeded(p Provider, providerStatus string) bool {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	switch p {
	case ProviderStripe:
		return s == "succeeded" || s == "paid"
	case ProviderPaystack:
		return s == "success"
	case ProviderFlutterwave:
		return s == "successful"
	case ProviderMpesa:
		return s == "0" || s == "success"
	default:
		return false
	}
}
