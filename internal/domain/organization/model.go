package organization

import (
	"fmt"
	"time"

	"github.com/arborhealth/arbor/internal/platform/fhir"
	"github.com/google/uuid"
)

// Billing extension URLs carried on the FHIR Organization resource.
const (
	ExtSubscriptionStatus          = "https://arborhealth.io/fhir/StructureDefinition/subscription-status"
	ExtSubscriptionPlan            = "https://arborhealth.io/fhir/StructureDefinition/subscription-plan"
	ExtSubscriptionID              = "https://arborhealth.io/fhir/StructureDefinition/subscription-id"
	ExtSubscriptionPeriodEnd       = "https://arborhealth.io/fhir/StructureDefinition/subscription-period-end"
	ExtSubscriptionSessionsUsed    = "https://arborhealth.io/fhir/StructureDefinition/subscription-sessions-used"
	ExtSubscriptionSessionsAllowed = "https://arborhealth.io/fhir/StructureDefinition/subscription-sessions-allowed"
	ExtSessionLastReset            = "https://arborhealth.io/fhir/StructureDefinition/session-last-reset"
	ExtStripeCustomerID            = "https://arborhealth.io/fhir/StructureDefinition/stripe-customer-id"
)

// Status is the subscription lifecycle status of an organization. Known
// values mirror the payment gateway's subscription statuses plus "none"
// (never subscribed) and "pending" (payment authorized, subscription not yet
// provisioned). Gateway statuses outside this set are stored verbatim rather
// than rejected; the state machine treats them as non-active.
type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
)

// ParseStatus normalizes a raw gateway status string. The boolean reports
// whether the value is one of the known lifecycle statuses.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	switch s {
	case StatusNone, StatusPending, StatusIncomplete, StatusTrialing,
		StatusActive, StatusPastDue, StatusCanceled:
		return s, true
	}
	return s, false
}

func (s Status) Known() bool {
	_, ok := ParseStatus(string(s))
	return ok
}

// Subscribed reports whether the status entitles the organization to its
// plan's full session allowance.
func (s Status) Subscribed() bool {
	return s == StatusActive || s == StatusTrialing
}

// statusTransitions enumerates the legal moves between known statuses.
// Self-transitions are always allowed: a plan change keeps the status at
// active, and webhook redeliveries rewrite the same value.
var statusTransitions = map[Status][]Status{
	StatusNone:       {StatusPending, StatusIncomplete, StatusTrialing, StatusActive},
	StatusPending:    {StatusIncomplete, StatusTrialing, StatusActive, StatusCanceled, StatusNone},
	StatusIncomplete: {StatusActive, StatusTrialing, StatusCanceled, StatusNone},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusCanceled},
	StatusCanceled:   {StatusNone, StatusPending, StatusActive},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition. Transitions involving an unknown status are allowed: the
// gateway is the source of truth for statuses we do not model.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	if !s.Known() || !next.Known() {
		return true
	}
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// BillingState is the billing portion of an organization record, persisted
// as the subscription-* extensions on the FHIR resource. All writes go
// through Repository.UpdateBilling with a version check.
type BillingState struct {
	Status          Status     `db:"subscription_status" json:"subscriptionStatus"`
	CustomerID      *string    `db:"stripe_customer_id" json:"stripeCustomerId,omitempty"`
	SubscriptionID  *string    `db:"stripe_subscription_id" json:"subscriptionId,omitempty"`
	PlanPriceID     *string    `db:"stripe_price_id" json:"subscriptionPlanPriceId,omitempty"`
	PeriodEnd       *time.Time `db:"current_period_end" json:"periodEnd,omitempty"`
	SessionsUsed    int        `db:"sessions_used" json:"sessionsUsed"`
	SessionsAllowed int        `db:"sessions_allowed" json:"sessionsAllowed"`
	LastReset       *time.Time `db:"last_reset" json:"lastReset,omitempty"`
}

// HasSubscription reports whether the organization currently holds a gateway
// subscription reference.
func (b BillingState) HasSubscription() bool {
	return b.SubscriptionID != nil && *b.SubscriptionID != ""
}

// Organization maps to the organization table.
type Organization struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FHIRID    string    `db:"fhir_id" json:"fhir_id"`
	Name      string    `db:"name" json:"name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Active    bool      `db:"active" json:"active"`
	Billing   BillingState
	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (o *Organization) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Organization",
		"id":           o.FHIRID,
		"name":         o.Name,
		"active":       o.Active,
		"meta": fhir.Meta{
			VersionID:   fmt.Sprintf("%d", o.VersionID),
			LastUpdated: o.UpdatedAt,
		},
	}

	if o.Email != nil {
		result["telecom"] = []map[string]interface{}{
			{"system": "email", "value": *o.Email},
		}
	}

	if exts := o.BillingExtensions(); len(exts) > 0 {
		result["extension"] = exts
	}

	return result
}

// BillingExtensions renders the flat subscription-* extensions from the
// billing state. Extensions with no value are omitted.
func (o *Organization) BillingExtensions() []fhir.Extension {
	b := o.Billing

	exts := []fhir.Extension{
		fhir.StringExtension(ExtSubscriptionStatus, string(b.Status)),
		fhir.IntExtension(ExtSubscriptionSessionsUsed, b.SessionsUsed),
		fhir.IntExtension(ExtSubscriptionSessionsAllowed, b.SessionsAllowed),
	}

	if b.PlanPriceID != nil {
		exts = append(exts, fhir.StringExtension(ExtSubscriptionPlan, *b.PlanPriceID))
	}
	if b.SubscriptionID != nil {
		exts = append(exts, fhir.StringExtension(ExtSubscriptionID, *b.SubscriptionID))
	}
	if b.CustomerID != nil {
		exts = append(exts, fhir.StringExtension(ExtStripeCustomerID, *b.CustomerID))
	}
	if b.PeriodEnd != nil {
		exts = append(exts, fhir.DateTimeExtension(ExtSubscriptionPeriodEnd, *b.PeriodEnd))
	}
	if b.LastReset != nil {
		exts = append(exts, fhir.DateTimeExtension(ExtSessionLastReset, *b.LastReset))
	}

	return exts
}

// ApplyExtensions parses the subscription-* extensions back into the billing
// state. Unknown extension URLs are ignored; a missing status extension
// leaves the state at "none".
func (o *Organization) ApplyExtensions(exts []fhir.Extension) {
	b := BillingState{Status: StatusNone}

	for i := range exts {
		ext := exts[i]
		switch ext.URL {
		case ExtSubscriptionStatus:
			if ext.ValueString != "" {
				b.Status, _ = ParseStatus(ext.ValueString)
			}
		case ExtSubscriptionPlan:
			if ext.ValueString != "" {
				v := ext.ValueString
				b.PlanPriceID = &v
			}
		case ExtSubscriptionID:
			if ext.ValueString != "" {
				v := ext.ValueString
				b.SubscriptionID = &v
			}
		case ExtStripeCustomerID:
			if ext.ValueString != "" {
				v := ext.ValueString
				b.CustomerID = &v
			}
		case ExtSubscriptionPeriodEnd:
			if ext.ValueDateTime != nil {
				v := *ext.ValueDateTime
				b.PeriodEnd = &v
			}
		case ExtSessionLastReset:
			if ext.ValueDateTime != nil {
				v := *ext.ValueDateTime
				b.LastReset = &v
			}
		case ExtSubscriptionSessionsUsed:
			if ext.ValueInteger != nil {
				b.SessionsUsed = *ext.ValueInteger
			}
		case ExtSubscriptionSessionsAllowed:
			if ext.ValueInteger != nil {
				b.SessionsAllowed = *ext.ValueInteger
			}
		}
	}

	o.Billing = b
}
