package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

type StripeClient struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *StripeClient) Provider() Provider { return ProviderStripe }

// VerifyWebhookSignature checks the Stripe-Signature header (HMAC-SHA256,
// comma-separated k=v pairs).
func (c *StripeClient) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return verifySHA256HMAC(payload, signatureHeader, c.WebhookSecret)
}

func (c *StripeClient) VerifyTransaction(ctx context.Context, reference string) (*ChargeResult, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("transaction reference is required")
	}
	var out struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Customer string `json:"customer"`
		Created  int64  `json:"created"`
	}
	u := fmt.Sprintf("%s/payment_intents/%s", c.APIBaseURL, url.PathEscape(ref))
	if err := getJSON(ctx, c.HTTPClient, u, c.SecretKey, &out); err != nil {
		return nil, err
	}
	var paidAt *time.Time
	if out.Created > 0 {
		t := time.Unix(out.Created, 0).UTC()
		paidAt = &t
	}
	return &ChargeResult{
		Reference:   out.ID,
		Status:      out.Status,
		AmountMinor: out.Amount,
		Currency:    strings.ToUpper(out.Currency),
		CustomerRef: out.Customer,
		PaidAt:      paidAt,
	}, nil
}

func (c *StripeClient) GetSubscriptionStatus(ctx context.Context, externalSubscriptionID string) (*SubscriptionState, error) {
	id := strings.TrimSpace(externalSubscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var out struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
		Plan               struct {
			ID string `json:"id"`
		} `json:"plan"`
	}
	u := fmt.Sprintf("%s/subscriptions/%s", c.APIBaseURL, url.PathEscape(id))
	if err := getJSON(ctx, c.HTTPClient, u, c.SecretKey, &out); err != nil {
		return nil, err
	}
	return &SubscriptionState{
		ExternalSubscriptionID: out.ID,
		Status:                 out.Status,
		CurrentPeriodStart:     unixTimePtr(out.CurrentPeriodStart),
		CurrentPeriodEnd:       unixTimePtr(out.CurrentPeriodEnd),
		CancelAtPeriodEnd:      out.CancelAtPeriodEnd,
		ExternalPlanID:         out.Plan.ID,
	}, nil
}

func (c *StripeClient) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if strings.TrimSpace(req.RecipientRef) == "" || req.AmountMinor <= 0 {
		return nil, errors.New("recipient and positive amount are required")
	}
	body := map[string]interface{}{
		"amount":         req.AmountMinor,
		"currency":       strings.ToLower(req.Currency),
		"destination":    req.RecipientRef,
		"description":    req.Narration,
		"transfer_group": req.IdentityKey,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := postJSON(ctx, c.HTTPClient, c.APIBaseURL+"/transfers", c.SecretKey, body, &out); err != nil {
		return nil, err
	}
	return &TransferResult{TransferRef: out.ID, Status: "paid"}, nil
}

func unixTimePtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
