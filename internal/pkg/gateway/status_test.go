package gateway

import (
	"testing"

	"github.com/MaxRichter/FotoMarkt/app/models"
)

func TestMapSubscriptionStatus(t *testing.T) {
	tests := []struct {
		provider Provider
		in       string
		want     string
		known    bool
	}{
		{ProviderStripe, "active", models.SubscriptionStatusActive, true},
		{ProviderStripe, "trialing", models.SubscriptionStatusTrialing, true},
		{ProviderStripe, "past_due", models.SubscriptionStatusPastDue, true},
		{ProviderStripe, "unpaid", models.SubscriptionStatusPastDue, true},
		{ProviderStripe, "canceled", models.SubscriptionStatusCanceled, true},
		{ProviderStripe, "incomplete", "", false},
		{ProviderPaystack, "active", models.SubscriptionStatusActive, true},
		{ProviderPaystack, "attention", models.SubscriptionStatusPastDue, true},
		{ProviderPaystack, "cancelled", models.SubscriptionStatusCanceled, true},
		{ProviderPaystack, "completed", models.SubscriptionStatusExpired, true},
		{ProviderPaystack, "weird", "", false},
		{ProviderFlutterwave, "active", models.SubscriptionStatusActive, true},
		{ProviderFlutterwave, "expired", models.SubscriptionStatusExpired, true},
		{ProviderMpesa, "active", "", false},
	}

	for _, tt := range tests {
		got, known := MapSubscriptionStatus(tt.provider, tt.in)
		if got != tt.want || known != tt.known {
			t.Fatalf("MapSubscriptionStatus(%s, %q) = (%q, %v), want (%q, %v)",
				tt.provider, tt.in, got, known, tt.want, tt.known)
		}
	}
}

func TestIsChargeSucceeded(t *testing.T) {
	if !IsChargeSucceeded(ProviderPaystack, "success") {
		t.Fatalf("expected paystack success to count")
	}
	if !IsChargeSucceeded(ProviderFlutterwave, "successful") {
		t.Fatalf("expected flutterwave successful to count")
	}
	if !IsChargeSucceeded(ProviderStripe, "succeeded") {
		t.Fatalf("expected stripe succeeded to count")
	}
	if IsChargeSucceeded(ProviderPaystack, "failed") {
		t.Fatalf("expected paystack failed to not count")
	}
}

func TestParseProvider(t *testing.T) {
	for _, p := range AllProviders() {
		got, err := ParseProvider(string(p))
		if err != nil || got != p {
			t.Fatalf("ParseProvider(%q) = (%q, %v)", p, got, err)
		}
	}
	if _, err := ParseProvider("paypal"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestSupportsRecurring(t *testing.T) {
	if SupportsRecurring(ProviderMpesa) {
		t.Fatalf("mpesa must not report recurring support")
	}
	for _, p := range []Provider{ProviderStripe, ProviderPaystack, ProviderFlutterwave} {
		if !SupportsRecurring(p) {
			t.Fatalf("expected %s to support recurring billing", p)
		}
	}
}
