package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed tag set of webhook events the router understands.
// Unrecognized types decode to EventUnknown and are acknowledged without
// side effects.
type EventType string

const (
	EventPaymentIntentSucceeded EventType = "payment_intent.succeeded"
	EventChargeSucceeded        EventType = "charge.succeeded"
	EventSubscriptionCreated    EventType = "customer.subscription.created"
	EventSubscriptionUpdated    EventType = "customer.subscription.updated"
	EventSubscriptionDeleted    EventType = "customer.subscription.deleted"
	EventUnknown                EventType = ""
)

// Event is the tagged union a webhook delivery decodes into. Exactly one of
// the payload pointers is set for a known type; RawType preserves the
// gateway's type string for audit of unknown events.
type Event struct {
	ID            string
	Type          EventType
	RawType       string
	PaymentIntent *PaymentIntentEvent
	Subscription  *SubscriptionEvent
	Charge        *ChargeEvent
}

// PaymentIntentEvent carries only the intent's ID: the router re-fetches the
// object rather than trusting a possibly stale webhook payload.
type PaymentIntentEvent struct {
	ID string `json:"id"`
}

// ChargeEvent is logged but never acted on; provisioning happens on the
// linked payment_intent.succeeded event.
type ChargeEvent struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	PaymentIntent string `json:"payment_intent"`
}

// SubscriptionEvent is the subscription object as delivered in the webhook
// payload.
type SubscriptionEvent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Customer         string            `json:"customer"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	CanceledAt       int64             `json:"canceled_at"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the price of the subscription's first line item, or ""
// when the payload carries none.
func (s *SubscriptionEvent) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// PeriodEnd returns the current period end, or nil when unset.
func (s *SubscriptionEvent) PeriodEnd() *time.Time {
	if s.CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
	return &t
}

// CanceledTime returns the cancellation timestamp, or nil when unset.
func (s *SubscriptionEvent) CanceledTime() *time.Time {
	if s.CanceledAt == 0 {
		return nil
	}
	t := time.Unix(s.CanceledAt, 0).UTC()
	return &t
}

// DecodeEvent decodes a verified webhook delivery into the tagged union,
// once, at the boundary. Unknown event types are not an error.
func DecodeEvent(id, eventType string, object []byte) (Event, error) {
	ev := Event{ID: id, RawType: eventType}

	switch EventType(eventType) {
	case EventPaymentIntentSucceeded:
		var pi PaymentIntentEvent
		if err := json.Unmarshal(object, &pi); err != nil {
			return ev, &ValidationError{Field: "data.object", Message: fmt.Sprintf("decode %s: %v", eventType, err)}
		}
		ev.Type = EventPaymentIntentSucceeded
		ev.PaymentIntent = &pi

	case EventChargeSucceeded:
		var ch ChargeEvent
		if err := json.Unmarshal(object, &ch); err != nil {
			return ev, &ValidationError{Field: "data.object", Message: fmt.Sprintf("decode %s: %v", eventType, err)}
		}
		ev.Type = EventChargeSucceeded
		ev.Charge = &ch

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub SubscriptionEvent
		if err := json.Unmarshal(object, &sub); err != nil {
			return ev, &ValidationError{Field: "data.object", Message: fmt.Sprintf("decode %s: %v", eventType, err)}
		}
		ev.Type = EventType(eventType)
		ev.Subscription = &sub

	default:
		ev.Type = EventUnknown
	}

	return ev, nil
}
