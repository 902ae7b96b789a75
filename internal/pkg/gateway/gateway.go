package gateway

import (
	"context"
	"errors"
	"time"
)

// Provider identifies a payment gateway. The set is closed: adding a provider
// means extending ForProvider, SupportsRecurring and the status table, which
// the exhaustive switches below force at compile review time.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
	ProviderMpesa       Provider = "mpesa"
)

var ErrUnknownProvider = errors.New("unknown payment provider")

// AllProviders lists every supported provider.
func AllProviders() []Provider {
	return []Provider{ProviderStripe, ProviderPaystack, ProviderFlutterwave, ProviderMpesa}
}

// ParseProvider validates a provider string from a route or payload.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderStripe, ProviderPaystack, ProviderFlutterwave, ProviderMpesa:
		return Provider(s), nil
	default:
		return "", ErrUnknownProvider
	}
}

// SupportsRecurring reports whether the provider has a native recurring
// billing primitive. Providers without one run the manual-renewal lifecycle.
func SupportsRecurring(p Provider) bool {
	switch p {
	case ProviderStripe, ProviderPaystack, ProviderFlutterwave:
		return true
	case ProviderMpesa:
		return false
	default:
		return false
	}
}

// ChargeResult is the normalized result of a transaction verification.
type ChargeResult struct {
	Reference   string
	Status      string // provider-native status string
	AmountMinor int64
	Currency    string
	CustomerRef string
	PaidAt      *time.Time
}

// SubscriptionState is the gateway's authoritative view of a subscription.
type SubscriptionState struct {
	ExternalSubscriptionID string
	Status                 string // provider-native status string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	ExternalPlanID         string
}

// TransferRequest asks the gateway to move money to a creator.
type TransferRequest struct {
	IdentityKey  string // gateway-side idempotency reference
	RecipientRef string
	AmountMinor  int64
	Currency     string
	Narration    string
}

// TransferResult is the normalized outcome of a transfer request.
type TransferResult struct {
	TransferRef string
	Status      string
}

// Client is the capability surface the ledger needs from a gateway. Wire
// shapes stay inside the per-provider implementations.
type Client interface {
	Provider() Provider
	VerifyWebhookSignature(payload []byte, signatureHeader string) bool
	VerifyTransaction(ctx context.Context, reference string) (*ChargeResult, error)
	GetSubscriptionStatus(ctx context.Context, externalSubscriptionID string) (*SubscriptionState, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// SignatureHeaderName returns the request header a provider signs its
// webhook deliveries with.
func SignatureHeaderName(p Provider) string {
	switch p {
	case ProviderStripe:
		return "Stripe-Signature"
	case ProviderPaystack:
		return "X-Paystack-Signature"
	case ProviderFlutterwave:
		return "Verif-Hash"
	case ProviderMpesa:
		return "X-Webhook-Secret"
	default:
		return ""
	}
}

// ForProvider returns the client variant for a provider.
func ForProvider(p Provider) (Client, error) {
	switch p {
	case ProviderStripe:
		return NewStripeClientFromEnv(), nil
	case ProviderPaystack:
		return NewPaystackClientFromEnv(), nil
	case ProviderFlutterwave:
		return NewFlutterwaveClientFromEnv(), nil
	case ProviderMpesa:
		return NewMpesaClientFromEnv(), nil
	default:
		return nil, ErrUnknownProvider
	}
}
