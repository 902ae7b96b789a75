package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func TestPaystackSignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success"}`)
	secret := "sk_test_secret"

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	validSig := hex.EncodeToString(mac.Sum(nil))

	c := &PaystackClient{WebhookSecret: secret}
	if !c.VerifyWebhookSignature(payload, validSig) {
		t.Fatalf("expected valid paystack signature to verify")
	}
	if c.VerifyWebhookSignature(payload, "deadbeef") {
		t.Fatalf("expected invalid paystack signature to fail")
	}
	if c.VerifyWebhookSignature(payload, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestStripeSignature(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	secret := "whsec_test"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	validSig := hex.EncodeToString(mac.Sum(nil))

	c := &StripeClient{WebhookSecret: secret}
	if !c.VerifyWebhookSignature(payload, validSig) {
		t.Fatalf("expected bare hex signature to verify")
	}
	if !c.VerifyWebhookSignature(payload, "t=12345,v1="+validSig) {
		t.Fatalf("expected k=v header signature to verify")
	}
	if c.VerifyWebhookSignature(payload, "t=12345,v1=deadbeef") {
		t.Fatalf("expected wrong signature to fail")
	}
}

func TestSharedSecretSignature(t *testing.T) {
	c := &FlutterwaveClient{VerifHash: "verif-123"}
	if !c.VerifyWebhookSignature(nil, "verif-123") {
		t.Fatalf("expected matching verif hash to verify")
	}
	if c.VerifyWebhookSignature(nil, "verif-999") {
		t.Fatalf("expected mismatched verif hash to fail")
	}

	m := &MpesaClient{WebhookSecret: "token-1"}
	if !m.VerifyWebhookSignature(nil, "token-1") {
		t.Fatalf("expected matching mpesa token to verify")
	}
	if m.VerifyWebhookSignature(nil, "") {
		t.Fatalf("expected empty mpesa token to fail")
	}
}
