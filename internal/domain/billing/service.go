package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/arborhealth/arbor/internal/domain/audit"
	"github.com/arborhealth/arbor/internal/domain/organization"
)

// maxWriteRetries bounds the read-mutate-write loop when a version conflict
// indicates a concurrent writer.
const maxWriteRetries = 5

// Service orchestrates billing actions and webhook reconciliation against
// the payment gateway and the organization record. Writes to an
// organization's billing state are serialized per organization and
// version-checked, so a user action racing a webhook delivery cannot lose an
// update.
type Service struct {
	orgs    organization.Repository
	gateway Gateway
	catalog *Catalog
	audit   audit.Recorder
	locks   *orgLocks
	clock   clockwork.Clock
	log     zerolog.Logger
}

func NewService(orgs organization.Repository, gateway Gateway, catalog *Catalog, recorder audit.Recorder, clock clockwork.Clock, log zerolog.Logger) *Service {
	return &Service{
		orgs:    orgs,
		gateway: gateway,
		catalog: catalog,
		audit:   recorder,
		locks:   newOrgLocks(),
		clock:   clock,
		log:     log,
	}
}

// ActionResult is returned to the front end after a billing action. The
// client secret, when present, lets it complete payment directly with the
// gateway.
type ActionResult struct {
	ClientSecret string `json:"clientSecret,omitempty"`
	Status       string `json:"status"`
}

// Create authorizes the first charge for a new subscription. The
// subscription itself is deliberately not created here: the webhook path
// provisions it once payment succeeds, so a payment that never completes
// provisions nothing.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, priceID, customerName, customerEmail string) (*ActionResult, error) {
	res, err := s.create(ctx, orgID, priceID, customerName, customerEmail)
	if err != nil {
		s.auditFailure(ctx, "create", orgID, priceID, err)
	}
	return res, err
}

func (s *Service) create(ctx context.Context, orgID uuid.UUID, priceID, customerName, customerEmail string) (*ActionResult, error) {
	if priceID == "" {
		return nil, &ValidationError{Field: "priceId", Message: "required for create"}
	}
	plan, err := s.catalog.Resolve(priceID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.CategoryBillingAction, map[string]any{
		"action": "create", "organization_id": orgID.String(), "price_id": priceID,
	})

	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, s.orgErr(orgID, err)
	}
	if org.Billing.Status.Subscribed() {
		return nil, &ConflictError{Message: "organization already has an active subscription"}
	}

	cust, err := s.findOrCreateCustomer(ctx, orgID, customerName, customerEmail)
	if err != nil {
		return nil, err
	}

	// Second duplicate guard: the organization record may be stale if a
	// provisioning webhook is still in flight.
	var existing *Subscription
	err = s.gatewayCall(ctx, "subscription.list", map[string]any{"customer_id": cust.ID}, func() error {
		var err error
		existing, err = s.gateway.FindActiveSubscription(ctx, cust.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Message: "customer already has an active subscription"}
	}

	var pi *PaymentIntent
	err = s.gatewayCall(ctx, "payment_intent.create", map[string]any{"customer_id": cust.ID, "amount_cents": plan.AmountCents}, func() error {
		var err error
		pi, err = s.gateway.CreatePaymentIntent(ctx, PaymentIntentParams{
			AmountCents: plan.AmountCents,
			CustomerID:  cust.ID,
			Metadata: map[string]string{
				MetadataOrganizationID: orgID.String(),
				MetadataPriceID:        priceID,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	custID := cust.ID
	_, err = s.writeBilling(ctx, orgID, func(b *organization.BillingState) error {
		// Gateway intent status stored verbatim until a webhook settles it.
		b.Status, _ = organization.ParseStatus(pi.Status)
		b.CustomerID = &custID
		b.PlanPriceID = &priceID
		b.SessionsAllowed = plan.SessionEntitlement
		b.LastReset = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ActionResult{ClientSecret: pi.ClientSecret, Status: "pending_payment"}, nil
}

// Upgrade swaps the subscription's plan, invoicing the prorated difference
// immediately. When the resulting invoice needs further user action the
// client secret of its payment intent is returned.
func (s *Service) Upgrade(ctx context.Context, orgID uuid.UUID, priceID string) (*ActionResult, error) {
	res, err := s.upgrade(ctx, orgID, priceID)
	if err != nil {
		s.auditFailure(ctx, "upgrade", orgID, priceID, err)
	}
	return res, err
}

func (s *Service) upgrade(ctx context.Context, orgID uuid.UUID, priceID string) (*ActionResult, error) {
	if priceID == "" {
		return nil, &ValidationError{Field: "priceId", Message: "required for upgrade"}
	}
	plan, err := s.catalog.Resolve(priceID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.CategoryBillingAction, map[string]any{
		"action": "upgrade", "organization_id": orgID.String(), "price_id": priceID,
	})

	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, s.orgErr(orgID, err)
	}
	if org.Billing.Status != organization.StatusActive {
		return nil, &ConflictError{Message: "upgrade requires an active subscription"}
	}

	_, sub, err := s.requireCustomerAndSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var updated *Subscription
	err = s.gatewayCall(ctx, "subscription.update", map[string]any{"subscription_id": sub.ID, "price_id": priceID}, func() error {
		var err error
		updated, err = s.gateway.UpdateSubscriptionPrice(ctx, sub.ID, priceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	periodEnd := updated.CurrentPeriodEnd
	_, err = s.writeBilling(ctx, orgID, func(b *organization.BillingState) error {
		b.Status, _ = organization.ParseStatus(updated.Status)
		b.SubscriptionID = &updated.ID
		b.PlanPriceID = &priceID
		b.SessionsAllowed = plan.SessionEntitlement
		b.PeriodEnd = &periodEnd
		return nil
	})
	if err != nil {
		return nil, err
	}

	var inv *Invoice
	err = s.gatewayCall(ctx, "invoice.list", map[string]any{"subscription_id": updated.ID}, func() error {
		var err error
		inv, err = s.gateway.LatestInvoice(ctx, updated.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if inv != nil && !inv.Paid && inv.PaymentIntentID != "" {
		var pi *PaymentIntent
		err = s.gatewayCall(ctx, "payment_intent.get", map[string]any{"payment_intent_id": inv.PaymentIntentID}, func() error {
			var err error
			pi, err = s.gateway.GetPaymentIntent(ctx, inv.PaymentIntentID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &ActionResult{ClientSecret: pi.ClientSecret, Status: "requires_payment"}, nil
	}

	return &ActionResult{Status: "upgraded"}, nil
}

// Cancel ends the subscription at the gateway and drops the organization
// back to the free tier allowance, preserving the sessions already used.
func (s *Service) Cancel(ctx context.Context, orgID uuid.UUID) (*ActionResult, error) {
	res, err := s.cancel(ctx, orgID)
	if err != nil {
		s.auditFailure(ctx, "cancel", orgID, "", err)
	}
	return res, err
}

func (s *Service) cancel(ctx context.Context, orgID uuid.UUID) (*ActionResult, error) {
	s.audit.Record(ctx, audit.CategoryBillingAction, map[string]any{
		"action": "cancel", "organization_id": orgID.String(),
	})

	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, s.orgErr(orgID, err)
	}

	_, sub, err := s.requireCustomerAndSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}

	err = s.gatewayCall(ctx, "subscription.cancel", map[string]any{"subscription_id": sub.ID}, func() error {
		_, err := s.gateway.CancelSubscription(ctx, sub.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	_, err = s.writeBilling(ctx, orgID, func(b *organization.BillingState) error {
		b.Status = organization.StatusCanceled
		b.PeriodEnd = &now
		b.SessionsAllowed = FreeTierSessions
		b.LastReset = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ActionResult{Status: "canceled"}, nil
}

// ConsumeSession counts one session against the organization's entitlement,
// resetting the counter at the first use of a new calendar month.
func (s *Service) ConsumeSession(ctx context.Context, orgID uuid.UUID) (*organization.BillingState, error) {
	state, err := s.consumeSession(ctx, orgID)
	if err != nil {
		s.auditFailure(ctx, "record_usage", orgID, "", err)
	}
	return state, err
}

func (s *Service) consumeSession(ctx context.Context, orgID uuid.UUID) (*organization.BillingState, error) {
	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	now := s.clock.Now().UTC()
	return s.writeBilling(ctx, orgID, func(b *organization.BillingState) error {
		if b.LastReset == nil || !sameMonth(*b.LastReset, now) {
			b.SessionsUsed = 0
			reset := now
			b.LastReset = &reset
		}
		allowed := b.SessionsAllowed
		if allowed == 0 {
			allowed = FreeTierSessions
		}
		if b.SessionsUsed >= allowed {
			return &QuotaError{Used: b.SessionsUsed, Allowed: allowed}
		}
		b.SessionsUsed++
		return nil
	})
}

// State returns the organization's current billing state.
func (s *Service) State(ctx context.Context, orgID uuid.UUID) (*organization.BillingState, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, s.orgErr(orgID, err)
	}
	return &org.Billing, nil
}

// Plans returns the active catalog.
func (s *Service) Plans() []Plan {
	return s.catalog.Plans()
}

// writeBilling is the single path through which organization billing state
// changes. It reads the record, applies the mutation to a copy, checks the
// status transition, and writes conditionally on the version it read,
// retrying when a concurrent writer advanced the version first.
func (s *Service) writeBilling(ctx context.Context, orgID uuid.UUID, mutate func(b *organization.BillingState) error) (*organization.BillingState, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		org, err := s.orgs.GetByID(ctx, orgID)
		if err != nil {
			return nil, s.orgErr(orgID, err)
		}

		state := org.Billing
		if err := mutate(&state); err != nil {
			return nil, err
		}

		if !org.Billing.Status.CanTransitionTo(state.Status) {
			return nil, &ConflictError{Message: fmt.Sprintf(
				"illegal status transition %s -> %s", org.Billing.Status, state.Status)}
		}
		if !state.Status.Known() {
			s.log.Warn().Str("organization_id", orgID.String()).Str("status", string(state.Status)).
				Msg("storing unrecognized gateway status verbatim")
		}

		err = s.orgs.UpdateBilling(ctx, orgID, org.VersionID, state)
		if err == nil {
			s.audit.Record(ctx, audit.CategoryStateWrite, map[string]any{
				"organization_id":  orgID.String(),
				"status":           string(state.Status),
				"sessions_used":    state.SessionsUsed,
				"sessions_allowed": state.SessionsAllowed,
				"version":          org.VersionID + 1,
			})
			return &state, nil
		}
		if !errors.Is(err, organization.ErrVersionConflict) {
			return nil, s.orgErr(orgID, err)
		}
		lastErr = err
		s.log.Debug().Str("organization_id", orgID.String()).Int("attempt", attempt+1).
			Msg("billing write conflicted, retrying")
	}
	return nil, fmt.Errorf("billing write for organization %s: %w", orgID, lastErr)
}

func (s *Service) findOrCreateCustomer(ctx context.Context, orgID uuid.UUID, name, email string) (*Customer, error) {
	var cust *Customer
	err := s.gatewayCall(ctx, "customer.search", map[string]any{"organization_id": orgID.String()}, func() error {
		var err error
		cust, err = s.gateway.FindCustomerByOrg(ctx, orgID.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	if cust == nil {
		err = s.gatewayCall(ctx, "customer.create", map[string]any{"organization_id": orgID.String()}, func() error {
			var err error
			cust, err = s.gateway.CreateCustomer(ctx, orgID.String(), name, email)
			return err
		})
		return cust, err
	}

	if name != "" || email != "" {
		err = s.gatewayCall(ctx, "customer.update", map[string]any{"customer_id": cust.ID}, func() error {
			var err error
			cust, err = s.gateway.UpdateCustomer(ctx, cust.ID, name, email)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return cust, nil
}

// requireCustomerAndSubscription resolves the organization's customer and
// active subscription; the absence of either is an error, not a no-op.
func (s *Service) requireCustomerAndSubscription(ctx context.Context, orgID uuid.UUID) (*Customer, *Subscription, error) {
	var cust *Customer
	err := s.gatewayCall(ctx, "customer.search", map[string]any{"organization_id": orgID.String()}, func() error {
		var err error
		cust, err = s.gateway.FindCustomerByOrg(ctx, orgID.String())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if cust == nil {
		return nil, nil, &NotFoundError{Resource: "customer", ID: orgID.String()}
	}

	var sub *Subscription
	err = s.gatewayCall(ctx, "subscription.list", map[string]any{"customer_id": cust.ID}, func() error {
		var err error
		sub, err = s.gateway.FindActiveSubscription(ctx, cust.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, &NotFoundError{Resource: "subscription", ID: cust.ID}
	}
	return cust, sub, nil
}

// gatewayCall records the call to the audit log before and after execution,
// so a partial failure leaves a reconstructable trail.
func (s *Service) gatewayCall(ctx context.Context, op string, fields map[string]any, call func() error) error {
	start := map[string]any{"op": op, "phase": "start"}
	for k, v := range fields {
		start[k] = v
	}
	s.audit.Record(ctx, audit.CategoryGatewayCall, start)

	err := call()

	done := map[string]any{"op": op, "phase": "done"}
	for k, v := range fields {
		done[k] = v
	}
	if err != nil {
		done["phase"] = "failed"
		done["error"] = err.Error()
	}
	s.audit.Record(ctx, audit.CategoryGatewayCall, done)
	return err
}

// auditFailure records a rejected operation before its error surfaces.
// Gateway failures already leave a trail through gatewayCall; this covers
// rejections raised locally: validation, conflicts, missing records.
func (s *Service) auditFailure(ctx context.Context, action string, orgID uuid.UUID, priceID string, err error) {
	payload := map[string]any{
		"action": action, "organization_id": orgID.String(), "error": err.Error(),
	}
	if priceID != "" {
		payload["price_id"] = priceID
	}
	s.audit.Record(ctx, audit.CategoryBillingAction, payload)
}

func (s *Service) orgErr(orgID uuid.UUID, err error) error {
	if errors.Is(err, organization.ErrNotFound) {
		return &NotFoundError{Resource: "organization", ID: orgID.String()}
	}
	return err
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
