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

const defaultFlutterwaveAPIBaseURL = "https://api.flutterwave.com/v3"

type FlutterwaveClient struct {
	SecretKey  string
	VerifHash  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewFlutterwaveClientFromEnv() *FlutterwaveClient {
	return &FlutterwaveClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("FLUTTERWAVE_SECRET_KEY", "")),
		VerifHash:  strings.TrimSpace(env.GetEnv("FLUTTERWAVE_VERIF_HASH", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("FLUTTERWAVE_API_BASE_URL", defaultFlutterwaveAPIBaseURL), "/"),
		HTTPClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *FlutterwaveClient) Provider() Provider { return ProviderFlutterwave }

// VerifyWebhookSignature checks the verif-hash header against the configured
// secret hash. Flutterwave sends a static hash, not an HMAC over the body.
func (c *FlutterwaveClient) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	_ = payload
	return verifySharedSecret(signatureHeader, c.VerifHash)
}

func (c *FlutterwaveClient) VerifyTransaction(ctx context.Context, reference string) (*ChargeResult, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("transaction reference is required")
	}
	var out struct {
		Status string `json:"status"`
		Data   struct {
			TxRef     string     `json:"tx_ref"`
			Status    string     `json:"status"`
			Amount    float64    `json:"amount"`
			Currency  string     `json:"currency"`
			CreatedAt *time.Time `json:"created_at"`
			Customer  struct {
				Email string `json:"email"`
			} `json:"customer"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/transactions/verify_by_reference?tx_ref=%s", c.APIBaseURL, url.QueryEscape(ref))
	if err := getJSON(ctx, c.HTTPClient, u, c.SecretKey, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, "success") {
		return nil, fmt.Errorf("flutterwave transaction verify rejected for %s", ref)
	}
	return &ChargeResult{
		Reference:   out.Data.TxRef,
		Status:      out.Data.Status,
		AmountMinor: int64(out.Data.Amount * 100),
		Currency:    strings.ToUpper(out.Data.Currency),
		CustomerRef: out.Data.Customer.Email,
		PaidAt:      out.Data.CreatedAt,
	}, nil
}

func (c *FlutterwaveClient) GetSubscriptionStatus(ctx context.Context, externalSubscriptionID string) (*SubscriptionState, error) {
	id := strings.TrimSpace(externalSubscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var out struct {
		Status string `json:"status"`
		Data   []struct {
			ID        int64  `json:"id"`
			Status    string `json:"status"`
			PlanID    int64  `json:"plan"`
			NextDue   string `json:"next_due"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/subscriptions?subscription_id=%s", c.APIBaseURL, url.QueryEscape(id))
	if err := getJSON(ctx, c.HTTPClient, u, c.SecretKey, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, "success") || len(out.Data) == 0 {
		return nil, fmt.Errorf("flutterwave subscription fetch rejected for %s", id)
	}
	sub := out.Data[0]
	state := &SubscriptionState{
		ExternalSubscriptionID: id,
		Status:                 sub.Status,
		ExternalPlanID:         fmt.Sprintf("%d", sub.PlanID),
	}
	if due, err := time.Parse("2006-01-02T15:04:05.000Z", sub.NextDue); err == nil {
		state.CurrentPeriodEnd = &due
	}
	return state, nil
}

func (c *FlutterwaveClient) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if strings.TrimSpace(req.RecipientRef) == "" || req.AmountMinor <= 0 {
		return nil, errors.New("recipient and positive amount are required")
	}
	body := map[string]interface{}{
		"account_bank":   "044",
		"account_number": req.RecipientRef,
		"amount":         float64(req.AmountMinor) / 100,
		"currency":       req.Currency,
		"narration":      req.Narration,
		"reference":      req.IdentityKey,
	}
	var out struct {
		Status string `json:"status"`
		Data   struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := postJSON(ctx, c.HTTPClient, c.APIBaseURL+"/transfers", c.SecretKey, body, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, "success") {
		return nil, fmt.Errorf("flutterwave transfer rejected for %s", req.IdentityKey)
	}
	return &TransferResult{TransferRef: fmt.Sprintf("%d", out.Data.ID), Status: out.Data.Status}, nil
}
