package billing

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePaymentIntentEvent(t *testing.T) {
	ev, err := DecodeEvent("evt_1", "payment_intent.succeeded", []byte(`{"id": "pi_1", "status": "succeeded"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != EventPaymentIntentSucceeded {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.PaymentIntent == nil || ev.PaymentIntent.ID != "pi_1" {
		t.Errorf("payment intent = %+v", ev.PaymentIntent)
	}
	if ev.Subscription != nil || ev.Charge != nil {
		t.Error("only one union arm may be set")
	}
}

func TestDecodeSubscriptionEvent(t *testing.T) {
	payload := `{
		"id": "sub_1",
		"status": "active",
		"customer": "cus_1",
		"current_period_end": 1772323200,
		"canceled_at": 0,
		"metadata": {"organizationId": "org-1", "priceId": "price_x"},
		"items": {"data": [{"price": {"id": "price_x"}}]}
	}`
	ev, err := DecodeEvent("evt_2", "customer.subscription.updated", []byte(payload))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != EventSubscriptionUpdated {
		t.Errorf("type = %q", ev.Type)
	}
	sub := ev.Subscription
	if sub == nil {
		t.Fatal("subscription arm not set")
	}
	if sub.ID != "sub_1" || sub.Status != "active" || sub.Customer != "cus_1" {
		t.Errorf("subscription = %+v", sub)
	}
	if sub.PriceID() != "price_x" {
		t.Errorf("price id = %q", sub.PriceID())
	}
	want := time.Unix(1772323200, 0).UTC()
	if end := sub.PeriodEnd(); end == nil || !end.Equal(want) {
		t.Errorf("period end = %v, want %v", end, want)
	}
	if sub.CanceledTime() != nil {
		t.Errorf("canceled time = %v, want nil", sub.CanceledTime())
	}
	if sub.Metadata["organizationId"] != "org-1" {
		t.Errorf("metadata = %v", sub.Metadata)
	}
}

func TestDecodeSubscriptionEventWithoutItems(t *testing.T) {
	ev, err := DecodeEvent("evt_3", "customer.subscription.deleted", []byte(`{"id": "sub_1", "status": "canceled"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Subscription.PriceID() != "" {
		t.Errorf("price id = %q, want empty", ev.Subscription.PriceID())
	}
	if ev.Subscription.PeriodEnd() != nil {
		t.Error("period end should be nil when unset")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	ev, err := DecodeEvent("evt_4", "invoice.payment_failed", []byte(`{"id": "in_1"}`))
	if err != nil {
		t.Fatalf("unknown types must not error: %v", err)
	}
	if ev.Type != EventUnknown {
		t.Errorf("type = %q, want unknown", ev.Type)
	}
	if ev.RawType != "invoice.payment_failed" {
		t.Errorf("raw type = %q", ev.RawType)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := DecodeEvent("evt_5", "customer.subscription.updated", []byte(`{not json`))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
