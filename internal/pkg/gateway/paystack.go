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

const defaultPaystackAPIBaseURL = "https://api.paystack.co"

type PaystackClient struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewPaystackClientFromEnv() *PaystackClient {
	secret := strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", ""))
	return &PaystackClient{
		SecretKey:     secret,
		WebhookSecret: strings.TrimSpace(env.GetEnv("PAYSTACK_WEBHOOK_SECRET", secret)),
		APIBaseURL:    strings.TrimRight(env.GetEnv("PAYSTACK_API_BASE_URL", defaultPaystackAPIBaseURL), "/"),
		HTTPClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *PaystackClient) Provider() Provider { return ProviderPaystack }

// VerifyWebhookSignature checks the x-paystack-signature header
// (HMAC-SHA512 of the raw body with the secret key).
func (c *PaystackClient) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return verifySHA512HMAC(payload, signatureHeader, c.WebhookSecret)
}

func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*ChargeResult, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("transaction reference is required")
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			Reference string     `json:"reference"`
			Status    string     `json:"status"`
			Amount    int64      `json:"amount"`
			Currency  string     `json:"currency"`
			PaidAt    *time.Time `json:"paid_at"`
			Customer  struct {
				CustomerCode string `json:"customer_code"`
			} `json:"customer"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/transaction/verify/%s", c.APIBaseURL, url.PathEscape(ref))
	if err := getJSON(ctx, c.HTTPClient, u, c.SecretKey, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack transaction verify rejected for %s", ref)
	}
	return &ChargeResult{
		Reference:   out.Data.Reference,
		Status:      out.Data.Status,
		AmountMinor: out.Data.Amount,
		Currency:    strings.ToUpper(out.Data.Currency),
		CustomerRef: out.Data.Customer.CustomerCode,
		PaidAt:      out.Data.PaidAt,
	}, nil
}

func (c *PaystackClient) GetSubscriptionStatus(ctx context.Context, externalSubscriptionID string) (*SubscriptionState, error) {
	id := strings.TrimSpace(externalSubscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			SubscriptionCode string     `json:"subscription_code"`
			Status           string     `json:"status"`
			NextPaymentDate  *time.Time `json:"next_payment_date"`
			Plan             struct {
				PlanCode string `json:"plan_code"`
			} `json:"plan"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/subscription/%s", c.APIBaseURL, url.PathEscape(id))
	if err := getJSON(ctx, c.HTTPClient, u, c.SecretKey, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack subscription fetch rejected for %s", id)
	}
	return &SubscriptionState{
		ExternalSubscriptionID: out.Data.SubscriptionCode,
		Status:                 out.Data.Status,
		CurrentPeriodEnd:       out.Data.NextPaymentDate,
		CancelAtPeriodEnd:      strings.EqualFold(out.Data.Status, "non-renewing"),
		ExternalPlanID:         out.Data.Plan.PlanCode,
	}, nil
}

func (c *PaystackClient) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if strings.TrimSpace(req.RecipientRef) == "" || req.AmountMinor <= 0 {
		return nil, errors.New("recipient and positive amount are required")
	}
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"recipient": req.RecipientRef,
		"reason":    req.Narration,
		"reference": req.IdentityKey,
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			TransferCode string `json:"transfer_code"`
			Status       string `json:"status"`
		} `json:"data"`
	}
	if err := postJSON(ctx, c.HTTPClient, c.APIBaseURL+"/transfer", c.SecretKey, body, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack transfer rejected for %s", req.IdentityKey)
	}
	return &TransferResult{TransferRef: out.Data.TransferCode, Status: out.Data.Status}, nil
}
