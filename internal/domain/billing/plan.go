// Package billing implements the subscription lifecycle for an organization:
// synchronous billing actions (create, upgrade, cancel) against the payment
// gateway, the webhook router that keeps the organization record in sync,
// and the static plan catalog both consult.
package billing

import (
	"strings"
)

// FreeTierSessions is the session allowance an organization falls back to
// after cancellation or before ever subscribing.
const FreeTierSessions = 10

// Mode partitions the plan catalog by gateway environment.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// ModeFromKey derives the catalog mode from the gateway secret key prefix.
// Test-prefixed keys (sk_test_, rk_test_) select the test catalog; anything
// else is live.
func ModeFromKey(secretKey string) Mode {
	if strings.HasPrefix(secretKey, "sk_test_") || strings.HasPrefix(secretKey, "rk_test_") {
		return ModeTest
	}
	return ModeLive
}

// Plan is one entry of the static catalog.
type Plan struct {
	Key                string `json:"key"`
	PriceID            string `json:"priceId"`
	AmountCents        int64  `json:"amountCents"`
	SessionEntitlement int    `json:"sessionEntitlement"`
	Interval           string `json:"interval"`
}

var testPlans = []Plan{
	{Key: "starter", PriceID: "price_1R0UlJIfLgrjtRiqrBl5AVE8", AmountCents: 2900, SessionEntitlement: 30, Interval: "month"},
	{Key: "professional", PriceID: "price_1R0UmCIfLgrjtRiqYw3kTnS2", AmountCents: 6900, SessionEntitlement: 80, Interval: "month"},
	{Key: "practice", PriceID: "price_1R0UmzIfLgrjtRiqQx8fJp4L", AmountCents: 12900, SessionEntitlement: 200, Interval: "month"},
}

var livePlans = []Plan{
	{Key: "starter", PriceID: "price_1R2KbPIfLgrjtRiqXm1cNd7E", AmountCents: 2900, SessionEntitlement: 30, Interval: "month"},
	{Key: "professional", PriceID: "price_1R2KcGIfLgrjtRiqHs5vBw9T", AmountCents: 6900, SessionEntitlement: 80, Interval: "month"},
	{Key: "practice", PriceID: "price_1R2KdAIfLgrjtRiqLk2mRz6Y", AmountCents: 12900, SessionEntitlement: 200, Interval: "month"},
}

// Catalog is the immutable plan table for one mode, built at process start.
type Catalog struct {
	mode  Mode
	plans []Plan
}

// NewCatalog builds the catalog for the given mode. The plan set is copied
// so callers cannot mutate the package defaults.
func NewCatalog(mode Mode) *Catalog {
	src := livePlans
	if mode == ModeTest {
		src = testPlans
	}
	plans := make([]Plan, len(src))
	copy(plans, src)
	return &Catalog{mode: mode, plans: plans}
}

func (c *Catalog) Mode() Mode { return c.mode }

// Plans returns a copy of the catalog's plan set.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Resolve looks up a plan by price ID within the catalog's mode. A price ID
// from the other mode's table does not resolve.
func (c *Catalog) Resolve(priceID string) (Plan, error) {
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, nil
		}
	}
	return Plan{}, &NotFoundError{Resource: "plan", ID: priceID}
}
