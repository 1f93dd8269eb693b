package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/arborhealth/arbor/internal/domain/audit"
	"github.com/arborhealth/arbor/internal/domain/organization"
)

// HandleEvent routes a decoded, signature-verified webhook event to its
// reconciliation logic. Unrecognized types are acknowledged without error so
// the gateway does not redeliver them forever.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	err := s.handleEvent(ctx, ev)
	if err != nil {
		s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
			"event_id": ev.ID, "type": ev.RawType, "error": err.Error(),
		})
	}
	return err
}

func (s *Service) handleEvent(ctx context.Context, ev Event) error {
	s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
		"event_id": ev.ID, "type": ev.RawType,
	})

	switch ev.Type {
	case EventPaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(ctx, ev)
	case EventChargeSucceeded:
		// Deliberate no-op: the linked payment_intent.succeeded event does
		// the provisioning, so acting here would double-provision.
		s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
			"event_id": ev.ID, "type": ev.RawType, "outcome": "noop",
		})
		return nil
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.handleSubscriptionChange(ctx, ev)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	default:
		s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
			"event_id": ev.ID, "type": ev.RawType, "outcome": "ignored",
		})
		return nil
	}
}

// handlePaymentIntentSucceeded provisions the recurring subscription once
// the first charge has been paid. The intent is re-fetched so provisioning
// never acts on a stale webhook payload.
func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, ev Event) error {
	var pi *PaymentIntent
	err := s.gatewayCall(ctx, "payment_intent.get", map[string]any{"payment_intent_id": ev.PaymentIntent.ID}, func() error {
		var err error
		pi, err = s.gateway.GetPaymentIntent(ctx, ev.PaymentIntent.ID)
		return err
	})
	if err != nil {
		return err
	}

	orgIDRaw := pi.Metadata[MetadataOrganizationID]
	priceID := pi.Metadata[MetadataPriceID]
	if orgIDRaw == "" || priceID == "" {
		return &ValidationError{Field: "metadata", Message: "payment intent missing organizationId or priceId"}
	}
	orgID, err := uuid.Parse(orgIDRaw)
	if err != nil {
		return &ValidationError{Field: "metadata.organizationId", Message: err.Error()}
	}
	if pi.PaymentMethodID == "" {
		return &ValidationError{Field: "payment_method", Message: "succeeded payment intent carries no payment method"}
	}

	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	// Redelivery guard: if a subscription already exists this event has
	// been processed before.
	var existing *Subscription
	err = s.gatewayCall(ctx, "subscription.list", map[string]any{"customer_id": pi.CustomerID}, func() error {
		var err error
		existing, err = s.gateway.FindActiveSubscription(ctx, pi.CustomerID)
		return err
	})
	if err != nil {
		return err
	}
	if existing != nil {
		s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
			"event_id": ev.ID, "type": ev.RawType, "outcome": "already_provisioned",
		})
		return nil
	}

	err = s.gatewayCall(ctx, "payment_method.attach", map[string]any{"customer_id": pi.CustomerID}, func() error {
		return s.gateway.AttachPaymentMethod(ctx, pi.PaymentMethodID, pi.CustomerID)
	})
	if err != nil {
		return err
	}

	err = s.gatewayCall(ctx, "customer.update", map[string]any{"customer_id": pi.CustomerID}, func() error {
		return s.gateway.SetDefaultPaymentMethod(ctx, pi.CustomerID, pi.PaymentMethodID)
	})
	if err != nil {
		return err
	}

	return s.gatewayCall(ctx, "subscription.create", map[string]any{"customer_id": pi.CustomerID, "price_id": priceID}, func() error {
		_, err := s.gateway.CreateSubscription(ctx, SubscriptionParams{
			CustomerID:           pi.CustomerID,
			PriceID:              priceID,
			DefaultPaymentMethod: pi.PaymentMethodID,
			Metadata: map[string]string{
				MetadataOrganizationID: orgID.String(),
				MetadataPriceID:        priceID,
			},
		})
		return err
	})
}

// handleSubscriptionChange replaces the organization's subscription
// extensions with fresh values from the subscription object.
func (s *Service) handleSubscriptionChange(ctx context.Context, ev Event) error {
	sub := ev.Subscription
	orgID, ok := s.resolveOrg(ctx, ev)
	if !ok {
		return nil
	}

	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	_, err := s.writeBilling(ctx, orgID, func(b *organization.BillingState) error {
		b.Status, _ = organization.ParseStatus(sub.Status)
		subID := sub.ID
		b.SubscriptionID = &subID
		if sub.Customer != "" {
			custID := sub.Customer
			b.CustomerID = &custID
		}
		if priceID := sub.PriceID(); priceID != "" {
			p := priceID
			b.PlanPriceID = &p
			if plan, err := s.catalog.Resolve(priceID); err == nil {
				b.SessionsAllowed = plan.SessionEntitlement
			}
		}
		b.PeriodEnd = sub.PeriodEnd()
		return nil
	})
	if err != nil {
		// A subscription for an organization we have no record of is not
		// ours to reconcile.
		var nf *NotFoundError
		if errors.As(err, &nf) {
			s.log.Warn().Str("organization_id", orgID.String()).Str("subscription_id", sub.ID).
				Msg("subscription event for unknown organization")
			return nil
		}
		return err
	}
	return nil
}

// handleSubscriptionDeleted marks the subscription canceled. Unlike the
// synchronous cancel action it leaves the session allowance untouched.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, ev Event) error {
	sub := ev.Subscription
	orgID, ok := s.resolveOrg(ctx, ev)
	if !ok {
		return nil
	}

	s.locks.lock(orgID)
	defer s.locks.unlock(orgID)

	now := s.clock.Now().UTC()
	_, err := s.writeBilling(ctx, orgID, func(b *organization.BillingState) error {
		b.Status = organization.StatusCanceled
		if end := sub.CanceledTime(); end != nil {
			b.PeriodEnd = end
		} else {
			b.PeriodEnd = &now
		}
		return nil
	})
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			s.log.Warn().Str("organization_id", orgID.String()).Str("subscription_id", sub.ID).
				Msg("subscription event for unknown organization")
			return nil
		}
		return err
	}
	return nil
}

// resolveOrg extracts the organization ID from subscription metadata. A
// subscription without it is not one this system manages: the event is
// audit-logged and skipped, never an error.
func (s *Service) resolveOrg(ctx context.Context, ev Event) (uuid.UUID, bool) {
	raw := ev.Subscription.Metadata[MetadataOrganizationID]
	if raw == "" {
		s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
			"event_id": ev.ID, "type": ev.RawType, "outcome": "no_organization_metadata",
		})
		return uuid.Nil, false
	}
	orgID, err := uuid.Parse(raw)
	if err != nil {
		s.audit.Record(ctx, audit.CategoryWebhookEvent, map[string]any{
			"event_id": ev.ID, "type": ev.RawType, "outcome": "bad_organization_metadata", "value": raw,
		})
		return uuid.Nil, false
	}
	return orgID, true
}
