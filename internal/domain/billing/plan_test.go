package billing

import (
	"errors"
	"testing"
)

func TestModeFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want Mode
	}{
		{"sk_test_abc123", ModeTest},
		{"rk_test_abc123", ModeTest},
		{"sk_live_abc123", ModeLive},
		{"rk_live_abc123", ModeLive},
		{"sk_abc123", ModeLive},
	}
	for _, tc := range cases {
		if got := ModeFromKey(tc.key); got != tc.want {
			t.Errorf("ModeFromKey(%q) = %s, want %s", tc.key, got, tc.want)
		}
	}
}

func TestResolveKnownPlan(t *testing.T) {
	c := NewCatalog(ModeTest)
	plan, err := c.Resolve("price_1R0UlJIfLgrjtRiqrBl5AVE8")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.PriceID != "price_1R0UlJIfLgrjtRiqrBl5AVE8" {
		t.Errorf("price id = %q", plan.PriceID)
	}
	if plan.AmountCents != 2900 {
		t.Errorf("amount = %d, want 2900", plan.AmountCents)
	}
	if plan.SessionEntitlement != 30 {
		t.Errorf("entitlement = %d, want 30", plan.SessionEntitlement)
	}
	if plan.Interval != "month" {
		t.Errorf("interval = %q, want month", plan.Interval)
	}
}

func TestResolveEveryCatalogEntry(t *testing.T) {
	for _, mode := range []Mode{ModeTest, ModeLive} {
		c := NewCatalog(mode)
		for _, p := range c.Plans() {
			got, err := c.Resolve(p.PriceID)
			if err != nil {
				t.Errorf("%s: Resolve(%s): %v", mode, p.PriceID, err)
				continue
			}
			if got.PriceID != p.PriceID {
				t.Errorf("%s: resolved price %q for input %q", mode, got.PriceID, p.PriceID)
			}
		}
	}
}

func TestResolveUnknownPlan(t *testing.T) {
	c := NewCatalog(ModeTest)
	_, err := c.Resolve("price_nope")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

// A price id present in the other mode's table must not resolve.
func TestModeIsolation(t *testing.T) {
	test := NewCatalog(ModeTest)
	live := NewCatalog(ModeLive)

	for _, p := range live.Plans() {
		if _, err := test.Resolve(p.PriceID); err == nil {
			t.Errorf("live price %s resolved in test mode", p.PriceID)
		}
	}
	for _, p := range test.Plans() {
		if _, err := live.Resolve(p.PriceID); err == nil {
			t.Errorf("test price %s resolved in live mode", p.PriceID)
		}
	}
}

func TestPriceIDsUniqueWithinMode(t *testing.T) {
	for _, mode := range []Mode{ModeTest, ModeLive} {
		seen := make(map[string]bool)
		for _, p := range NewCatalog(mode).Plans() {
			if seen[p.PriceID] {
				t.Errorf("%s: duplicate price id %s", mode, p.PriceID)
			}
			seen[p.PriceID] = true
		}
	}
}

func TestPlansReturnsCopy(t *testing.T) {
	c := NewCatalog(ModeTest)
	plans := c.Plans()
	original := plans[0].PriceID
	plans[0].PriceID = "mutated"

	again, err := c.Resolve(original)
	if err != nil {
		t.Fatalf("catalog mutated through Plans(): %v", err)
	}
	if again.PriceID != original {
		t.Errorf("price id = %q", again.PriceID)
	}
}
