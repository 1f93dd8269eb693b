package organization

import (
	"testing"
	"time"

	"github.com/arborhealth/arbor/internal/platform/fhir"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		raw   string
		want  Status
		known bool
	}{
		{"none", StatusNone, true},
		{"pending", StatusPending, true},
		{"incomplete", StatusIncomplete, true},
		{"trialing", StatusTrialing, true},
		{"active", StatusActive, true},
		{"past_due", StatusPastDue, true},
		{"canceled", StatusCanceled, true},
		{"incomplete_expired", Status("incomplete_expired"), false},
		{"paused", Status("paused"), false},
		{"", Status(""), false},
	}
	for _, tc := range cases {
		got, known := ParseStatus(tc.raw)
		if got != tc.want || known != tc.known {
			t.Errorf("ParseStatus(%q) = (%q, %v), want (%q, %v)", tc.raw, got, known, tc.want, tc.known)
		}
	}
}

func TestStatusSubscribed(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusTrialing} {
		if !s.Subscribed() {
			t.Errorf("%s should be subscribed", s)
		}
	}
	for _, s := range []Status{StatusNone, StatusPending, StatusPastDue, StatusCanceled, Status("paused")} {
		if s.Subscribed() {
			t.Errorf("%s should not be subscribed", s)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusNone, StatusPending},
		{StatusNone, StatusActive},
		{StatusPending, StatusActive},
		{StatusActive, StatusActive}, // plan change self-loop
		{StatusActive, StatusPastDue},
		{StatusActive, StatusCanceled},
		{StatusPastDue, StatusActive},
		{StatusPastDue, StatusCanceled},
		{StatusTrialing, StatusActive},
		{StatusCanceled, StatusPending}, // resubscribe
		{StatusCanceled, StatusNone},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusNone, StatusPastDue},
		{StatusNone, StatusCanceled},
		{StatusActive, StatusPending},
		{StatusActive, StatusNone},
		{StatusCanceled, StatusPastDue},
		{StatusPastDue, StatusPending},
	}
	for _, tc := range forbidden {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestStatusTransitionsUnknownStatusAllowed(t *testing.T) {
	paused := Status("paused")
	if !StatusActive.CanTransitionTo(paused) {
		t.Error("transition to unknown gateway status should be allowed")
	}
	if !paused.CanTransitionTo(StatusActive) {
		t.Error("transition from unknown gateway status should be allowed")
	}
}

func TestBillingStateHasSubscription(t *testing.T) {
	var b BillingState
	if b.HasSubscription() {
		t.Error("empty state should have no subscription")
	}
	empty := ""
	b.SubscriptionID = &empty
	if b.HasSubscription() {
		t.Error("empty subscription ID should count as no subscription")
	}
	sub := "sub_123"
	b.SubscriptionID = &sub
	if !b.HasSubscription() {
		t.Error("expected HasSubscription to report true")
	}
}

func TestBillingExtensionsRoundTrip(t *testing.T) {
	sub := "sub_abc"
	cust := "cus_abc"
	price := "price_1R0UlJIfLgrjtRiqrBl5AVE8"
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reset := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	org := &Organization{
		FHIRID: "org-1",
		Name:   "Cedar Grove Counseling",
		Active: true,
		Billing: BillingState{
			Status:          StatusActive,
			CustomerID:      &cust,
			SubscriptionID:  &sub,
			PlanPriceID:     &price,
			PeriodEnd:       &end,
			SessionsUsed:    12,
			SessionsAllowed: 30,
			LastReset:       &reset,
		},
		VersionID: 3,
	}

	exts := org.BillingExtensions()

	if got := fhir.FindExtension(exts, ExtSubscriptionStatus); got == nil || got.ValueString != "active" {
		t.Errorf("status extension = %+v", got)
	}
	if got := fhir.FindExtension(exts, ExtSubscriptionPlan); got == nil || got.ValueString != price {
		t.Errorf("plan extension = %+v", got)
	}
	if got := fhir.FindExtension(exts, ExtSubscriptionID); got == nil || got.ValueString != sub {
		t.Errorf("subscription ID extension = %+v", got)
	}
	if got := fhir.FindExtension(exts, ExtSubscriptionSessionsUsed); got == nil || got.ValueInteger == nil || *got.ValueInteger != 12 {
		t.Errorf("sessions-used extension = %+v", got)
	}
	if got := fhir.FindExtension(exts, ExtSubscriptionSessionsAllowed); got == nil || got.ValueInteger == nil || *got.ValueInteger != 30 {
		t.Errorf("sessions-allowed extension = %+v", got)
	}
	if got := fhir.FindExtension(exts, ExtSubscriptionPeriodEnd); got == nil || got.ValueDateTime == nil || !got.ValueDateTime.Equal(end) {
		t.Errorf("period-end extension = %+v", got)
	}
	if got := fhir.FindExtension(exts, ExtSessionLastReset); got == nil || got.ValueDateTime == nil || !got.ValueDateTime.Equal(reset) {
		t.Errorf("last-reset extension = %+v", got)
	}

	var parsed Organization
	parsed.ApplyExtensions(exts)
	b := parsed.Billing
	if b.Status != StatusActive {
		t.Errorf("parsed status = %s", b.Status)
	}
	if b.PlanPriceID == nil || *b.PlanPriceID != price {
		t.Errorf("parsed plan price = %v", b.PlanPriceID)
	}
	if b.SubscriptionID == nil || *b.SubscriptionID != sub {
		t.Errorf("parsed subscription ID = %v", b.SubscriptionID)
	}
	if b.CustomerID == nil || *b.CustomerID != cust {
		t.Errorf("parsed customer ID = %v", b.CustomerID)
	}
	if b.SessionsUsed != 12 || b.SessionsAllowed != 30 {
		t.Errorf("parsed sessions = %d/%d", b.SessionsUsed, b.SessionsAllowed)
	}
	if b.PeriodEnd == nil || !b.PeriodEnd.Equal(end) {
		t.Errorf("parsed period end = %v", b.PeriodEnd)
	}
	if b.LastReset == nil || !b.LastReset.Equal(reset) {
		t.Errorf("parsed last reset = %v", b.LastReset)
	}
}

func TestBillingExtensionsOmitsAbsentValues(t *testing.T) {
	org := &Organization{
		FHIRID:  "org-2",
		Name:    "Solo Practice",
		Billing: BillingState{Status: StatusNone, SessionsAllowed: 10},
	}

	exts := org.BillingExtensions()
	for _, url := range []string{ExtSubscriptionID, ExtStripeCustomerID, ExtSubscriptionPlan, ExtSubscriptionPeriodEnd, ExtSessionLastReset} {
		if fhir.FindExtension(exts, url) != nil {
			t.Errorf("extension %s should be absent", url)
		}
	}
	if got := fhir.FindExtension(exts, ExtSubscriptionStatus); got == nil || got.ValueString != "none" {
		t.Errorf("status extension = %+v", got)
	}
}

func TestApplyExtensionsEmptyDefaultsToNone(t *testing.T) {
	var org Organization
	org.ApplyExtensions(nil)
	if org.Billing.Status != StatusNone {
		t.Errorf("status = %s, want none", org.Billing.Status)
	}
}

func TestToFHIRIncludesExtensions(t *testing.T) {
	org := &Organization{
		FHIRID:  "org-3",
		Name:    "Lakeside Therapy",
		Active:  true,
		Billing: BillingState{Status: StatusActive, SessionsAllowed: 80},
	}
	resource := org.ToFHIR()
	if resource["resourceType"] != "Organization" {
		t.Fatalf("resourceType = %v", resource["resourceType"])
	}
	if _, ok := resource["extension"].([]fhir.Extension); !ok {
		t.Fatalf("extension has wrong type: %T", resource["extension"])
	}
}
