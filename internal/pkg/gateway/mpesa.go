package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/env"
)

const defaultMpesaAPIBaseURL = "https://api.safaricom.co.ke"

// MpesaClient is the one provider without native recurring billing;
// subscriptions paid through it run the manual-renewal lifecycle.
type MpesaClient struct {
	AccessToken   string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewMpesaClientFromEnv() *MpesaClient {
	return &MpesaClient{
		AccessToken:   strings.TrimSpace(env.GetEnv("MPESA_ACCESS_TOKEN", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("MPESA_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("MPESA_API_BASE_URL", defaultMpesaAPIBaseURL), "/"),
		HTTPClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *MpesaClient) Provider() Provider { return ProviderMpesa }

// VerifyWebhookSignature compares the shared callback token configured on the
// daraja confirmation URL.
func (c *MpesaClient) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	_ = payload
	return verifySharedSecret(signatureHeader, c.WebhookSecret)
}

func (c *MpesaClient) VerifyTransaction(ctx context.Context, reference string) (*ChargeResult, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("transaction reference is required")
	}
	var out struct {
		ResultCode        string `json:"ResultCode"`
		TransactionID     string `json:"TransactionID"`
		TransactionAmount int64  `json:"TransactionAmount"`
		DebitPartyName    string `json:"DebitPartyName"`
	}
	u := fmt.Sprintf("%s/mpesa/transactionstatus/v1/query?transaction_id=%s", c.APIBaseURL, url.QueryEscape(ref))
	if err := getJSON(ctx, c.HTTPClient, u, c.AccessToken, &out); err != nil {
		return nil, err
	}
	return &ChargeResult{
		Reference:   out.TransactionID,
		Status:      out.ResultCode,
		AmountMinor: out.TransactionAmount * 100,
		Currency:    "KES",
		CustomerRef: out.DebitPartyName,
	}, nil
}

// GetSubscriptionStatus always fails: there is no recurring primitive to ask.
func (c *MpesaClient) GetSubscriptionStatus(ctx context.Context, externalSubscriptionID string) (*SubscriptionState, error) {
	return nil, errors.New("mpesa has no native recurring billing")
}

func (c *MpesaClient) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if strings.TrimSpace(req.RecipientRef) == "" || req.AmountMinor <= 0 {
		return nil, errors.New("recipient and positive amount are required")
	}
	body := map[string]interface{}{
		"OriginatorConversationID": req.IdentityKey,
		"Amount":                   req.AmountMinor / 100,
		"PartyB":                   req.RecipientRef,
		"Remarks":                  req.Narration,
		"CommandID":                "BusinessPayment",
	}
	var out struct {
		ConversationID           string `json:"ConversationID"`
		ResponseCode             string `json:"ResponseCode"`
		ResponseDescription      string `json:"ResponseDescription"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
	}
	if err := postJSON(ctx, c.HTTPClient, c.APIBaseURL+"/mpesa/b2c/v3/paymentrequest", c.AccessToken, body, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("mpesa b2c rejected: %s", out.ResponseDescription)
	}
	return &TransferResult{TransferRef: out.ConversationID, Status: "success"}, nil
}
