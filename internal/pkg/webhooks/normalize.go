package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/subscriptions"
)

// Normalized event types. Every provider payload maps onto this small set;
// anything else becomes EventIgnored and is acknowledged without work.
const (
	EventChargeSucceeded      = "charge.succeeded"
	EventChargeRefunded       = "charge.refunded"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventTransferSucceeded    = "transfer.succeeded"
	EventTransferFailed       = "transfer.failed"
	EventIgnored              = "ignored"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is the provider-agnostic form of a webhook delivery.
type Event struct {
	Provider        gateway.Provider
	ExternalEventID string
	Type            string
	SignatureValid  bool
	RawPayload      []byte

	// Set for charge events.
	TransactionRef string

	// Set for subscription events.
	Subscription *subscriptions.NormalizedSubscription

	// Set for transfer events.
	TransferIdentityKey string
}

// Normalize parses a raw provider payload into an Event. It only extracts
// what the processor needs; the full payload is kept verbatim on the ledger
// row for later inspection.
func Normalize(p gateway.Provider, payload []byte) (*Event, error) {
	switch p {
	case gateway.ProviderStripe:
		return normalizeStripe(payload)
	case gateway.ProviderPaystack:
		return normalizePaystack(payload)
	case gateway.ProviderFlutterwave:
		return normalizeFlutterwave(payload)
	case gateway.ProviderMpesa:
		return normalizeMpesa(payload)
	default:
		return nil, gateway.ErrUnknownProvider
	}
}

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeChargeObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSubscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID       string `json:"id"`
				Currency string `json:"currency"`
				Amount   int64  `json:"unit_amount"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type stripeTransferObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func normalizeStripe(payload []byte) (*Event, error) {
	var envelope stripeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == "" {
		return nil, ErrMalformedPayload
	}

	event := &Event{
		Provider:        gateway.ProviderStripe,
		ExternalEventID: envelope.ID,
		RawPayload:      payload,
		Type:            EventIgnored,
	}

	switch envelope.Type {
	case "charge.succeeded", "payment_intent.succeeded":
		var obj stripeChargeObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedPayload
		}
		event.Type = EventChargeSucceeded
		event.TransactionRef = chargeReference(obj.Metadata, obj.ID)
	case "charge.refunded":
		var obj stripeChargeObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedPayload
		}
		event.Type = EventChargeRefunded
		event.TransactionRef = chargeReference(obj.Metadata, obj.ID)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var obj stripeSubscriptionObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil || obj.ID == "" {
			return nil, ErrMalformedPayload
		}
		sub, err := stripeSubscription(&obj, envelope.Type == "customer.subscription.deleted")
		if err != nil {
			return nil, err
		}
		event.Subscription = sub
		event.Type = EventSubscriptionUpdated
		if envelope.Type == "customer.subscription.deleted" {
			event.Type = EventSubscriptionCanceled
		}
	case "transfer.created", "transfer.paid":
		var obj stripeTransferObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedPayload
		}
		event.Type = EventTransferSucceeded
		event.TransferIdentityKey = obj.Metadata["identity_key"]
	case "transfer.failed", "transfer.reversed":
		var obj stripeTransferObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedPayload
		}
		event.Type = EventTransferFailed
		event.TransferIdentityKey = obj.Metadata["identity_key"]
	}
	return event, nil
}

func stripeSubscription(obj *stripeSubscriptionObject, deleted bool) (*subscriptions.NormalizedSubscription, error) {
	ownerID, scope, err := ownerFromMetadata(obj.Metadata)
	if err != nil {
		return nil, err
	}

	status, known := gateway.MapSubscriptionStatus(gateway.ProviderStripe, obj.Status)
	if deleted {
		status, known = models.SubscriptionStatusCanceled, true
	}
	if !known {
		return nil, fmt.Errorf("unmapped stripe subscription status %q", obj.Status)
	}

	sub := &subscriptions.NormalizedSubscription{
		Scope:                  scope,
		OwnerID:                ownerID,
		PlanCode:               obj.Metadata["plan_code"],
		Status:                 status,
		PaymentProvider:        string(gateway.ProviderStripe),
		ExternalSubscriptionID: obj.ID,
		ExternalCustomerID:     obj.Customer,
		RenewalMode:            models.RenewalModeProvider,
		CancelAtPeriodEnd:      obj.CancelAtPeriodEnd,
		FromWebhook:            true,
	}
	if obj.CurrentPeriodStart > 0 {
		t := time.Unix(obj.CurrentPeriodStart, 0).UTC()
		sub.CurrentPeriodStart = &t
	}
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &t
	}
	if len(obj.Items.Data) > 0 {
		price := obj.Items.Data[0].Price
		sub.ExternalPlanID = price.ID
		sub.Currency = strings.ToUpper(price.Currency)
		sub.AmountMinor = price.Amount
	}
	return sub, nil
}

type paystackEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		ID               json.Number       `json:"id"`
		Reference        string            `json:"reference"`
		Status           string            `json:"status"`
		SubscriptionCode string            `json:"subscription_code"`
		CustomerCode     string            `json:"customer_code"`
		NextPaymentDate  string            `json:"next_payment_date"`
		Amount           int64             `json:"amount"`
		Currency         string            `json:"currency"`
		Metadata         map[string]string `json:"metadata"`
		Plan             struct {
			PlanCode string `json:"plan_code"`
		} `json:"plan"`
		TransferCode string `json:"transfer_code"`
	} `json:"data"`
}

func normalizePaystack(payload []byte) (*Event, error) {
	var envelope paystackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		return nil, ErrMalformedPayload
	}

	event := &Event{
		Provider:   gateway.ProviderPaystack,
		RawPayload: payload,
		Type:       EventIgnored,
	}
	// Paystack has no event id; the event name plus the object reference is
	// stable across redeliveries.
	switch envelope.Event {
	case "charge.success":
		event.Type = EventChargeSucceeded
		event.TransactionRef = chargeReference(envelope.Data.Metadata, envelope.Data.Reference)
		event.ExternalEventID = envelope.Event + ":" + envelope.Data.Reference
	case "refund.processed":
		event.Type = EventChargeRefunded
		event.TransactionRef = chargeReference(envelope.Data.Metadata, envelope.Data.Reference)
		event.ExternalEventID = envelope.Event + ":" + envelope.Data.Reference
	case "subscription.create", "subscription.not_renew", "subscription.disable":
		sub, err := paystackSubscription(&envelope)
		if err != nil {
			return nil, err
		}
		event.Subscription = sub
		event.Type = EventSubscriptionUpdated
		if envelope.Event == "subscription.disable" {
			event.Type = EventSubscriptionCanceled
		}
		event.ExternalEventID = envelope.Event + ":" + envelope.Data.SubscriptionCode
	case "transfer.success":
		event.Type = EventTransferSucceeded
		event.TransferIdentityKey = transferIdentity(envelope.Data.Metadata, envelope.Data.Reference)
		event.ExternalEventID = envelope.Event + ":" + envelope.Data.TransferCode
	case "transfer.failed", "transfer.reversed":
		event.Type = EventTransferFailed
		event.TransferIdentityKey = transferIdentity(envelope.Data.Metadata, envelope.Data.Reference)
		event.ExternalEventID = envelope.Event + ":" + envelope.Data.TransferCode
	default:
		event.ExternalEventID = envelope.Event + ":" + envelope.Data.Reference
	}
	if event.ExternalEventID == "" || strings.HasSuffix(event.ExternalEventID, ":") {
		return nil, ErrMalformedPayload
	}
	return event, nil
}

func paystackSubscription(envelope *paystackEnvelope) (*subscriptions.NormalizedSubscription, error) {
	ownerID, scope, err := ownerFromMetadata(envelope.Data.Metadata)
	if err != nil {
		return nil, err
	}

	providerStatus := envelope.Data.Status
	if envelope.Event == "subscription.disable" {
		providerStatus = "cancelled"
	}
	status, known := gateway.MapSubscriptionStatus(gateway.ProviderPaystack, providerStatus)
	if !known {
		return nil, fmt.Errorf("unmapped paystack subscription status %q", providerStatus)
	}

	sub := &subscriptions.NormalizedSubscription{
		Scope:                  scope,
		OwnerID:                ownerID,
		PlanCode:               envelope.Data.Metadata["plan_code"],
		Status:                 status,
		PaymentProvider:        string(gateway.ProviderPaystack),
		ExternalSubscriptionID: envelope.Data.SubscriptionCode,
		ExternalCustomerID:     envelope.Data.CustomerCode,
		ExternalPlanID:         envelope.Data.Plan.PlanCode,
		RenewalMode:            models.RenewalModeProvider,
		Currency:               strings.ToUpper(envelope.Data.Currency),
		AmountMinor:            envelope.Data.Amount,
		FromWebhook:            true,
	}
	if sub.ExternalSubscriptionID == "" {
		return nil, ErrMalformedPayload
	}
	if envelope.Data.NextPaymentDate != "" {
		if t, err := time.Parse(time.RFC3339, envelope.Data.NextPaymentDate); err == nil {
			utc := t.UTC()
			sub.CurrentPeriodEnd = &utc
		}
	}
	return sub, nil
}

type flutterwaveEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		ID       json.Number       `json:"id"`
		TxRef    string            `json:"tx_ref"`
		Status   string            `json:"status"`
		Meta     map[string]string `json:"meta"`
		Currency string            `json:"currency"`
		Amount   json.Number       `json:"amount"`
	} `json:"data"`
}

func normalizeFlutterwave(payload []byte) (*Event, error) {
	var envelope flutterwaveEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		return nil, ErrMalformedPayload
	}

	event := &Event{
		Provider:        gateway.ProviderFlutterwave,
		RawPayload:      payload,
		Type:            EventIgnored,
		ExternalEventID: envelope.Event + ":" + envelope.Data.ID.String(),
	}
	switch envelope.Event {
	case "charge.completed":
		if strings.EqualFold(envelope.Data.Status, "successful") {
			event.Type = EventChargeSucceeded
		}
		event.TransactionRef = chargeReference(envelope.Data.Meta, envelope.Data.TxRef)
	case "transfer.completed":
		event.TransferIdentityKey = transferIdentity(envelope.Data.Meta, envelope.Data.TxRef)
		if strings.EqualFold(envelope.Data.Status, "successful") {
			event.Type = EventTransferSucceeded
		} else {
			event.Type = EventTransferFailed
		}
	}
	if envelope.Data.ID.String() == "" {
		return nil, ErrMalformedPayload
	}
	return event, nil
}

type mpesaEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func normalizeMpesa(payload []byte) (*Event, error) {
	var envelope mpesaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, ErrMalformedPayload
	}
	callback := envelope.Body.StkCallback
	if callback.CheckoutRequestID == "" {
		return nil, ErrMalformedPayload
	}

	event := &Event{
		Provider:        gateway.ProviderMpesa,
		RawPayload:      payload,
		ExternalEventID: callback.CheckoutRequestID,
		Type:            EventIgnored,
		TransactionRef:  callback.CheckoutRequestID,
	}
	if callback.ResultCode == 0 {
		event.Type = EventChargeSucceeded
	}
	return event, nil
}

// chargeReference prefers our own reference planted in checkout metadata over
// the provider-side object id.
func chargeReference(metadata map[string]string, fallback string) string {
	if ref := metadata["reference"]; ref != "" {
		return ref
	}
	return fallback
}

func transferIdentity(metadata map[string]string, fallback string) string {
	if key := metadata["identity_key"]; key != "" {
		return key
	}
	return fallback
}

func ownerFromMetadata(metadata map[string]string) (uint, string, error) {
	scope := metadata["scope"]
	rawOwner := metadata["owner_id"]
	if scope == "" || rawOwner == "" {
		return 0, "", errors.New("subscription event is missing scope or owner_id metadata")
	}
	ownerID, err := strconv.ParseUint(rawOwner, 10, 64)
	if err != nil || ownerID == 0 {
		return 0, "", fmt.Errorf("invalid owner_id metadata %q", rawOwner)
	}
	return uint(ownerID), scope, nil
}
