package billing

import (
	"context"
	"time"
)

// Metadata keys the gateway objects carry so webhook deliveries can be
// correlated back to an organization and plan without extra lookups.
const (
	MetadataOrganizationID = "organizationId"
	MetadataPriceID        = "priceId"
)

// Customer is the gateway's customer object, one per organization.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// Subscription is the gateway's recurring subscription object.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	CurrentPeriodEnd time.Time
	CanceledAt       *time.Time
	Metadata         map[string]string
}

// PaymentIntent authorizes the first charge of a subscription. ClientSecret
// is handed to the front end to complete payment directly with the gateway.
type PaymentIntent struct {
	ID              string
	Status          string
	ClientSecret    string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// Invoice is the gateway's invoice object, reduced to what the upgrade flow
// inspects.
type Invoice struct {
	ID              string
	Paid            bool
	PaymentIntentID string
}

// PaymentIntentParams describes the charge to authorize.
type PaymentIntentParams struct {
	AmountCents int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// SubscriptionParams describes the recurring subscription to provision.
type SubscriptionParams struct {
	CustomerID           string
	PriceID              string
	DefaultPaymentMethod string
	Metadata             map[string]string
}

// Gateway is the payment processor surface the billing service consumes.
// Implementations must return *ExternalServiceError for transport failures
// (with Timeout set when the call deadline elapsed) and *NotFoundError when
// the gateway reports a missing resource. Lookup methods return nil with no
// error when the object simply does not exist.
type Gateway interface {
	// FindCustomerByOrg locates the customer tagged with the organization ID
	// in its metadata. Returns nil when none exists.
	FindCustomerByOrg(ctx context.Context, orgID string) (*Customer, error)
	CreateCustomer(ctx context.Context, orgID, name, email string) (*Customer, error)
	UpdateCustomer(ctx context.Context, customerID, name, email string) (*Customer, error)

	// FindActiveSubscription returns the customer's active subscription, or
	// nil when there is none.
	FindActiveSubscription(ctx context.Context, customerID string) (*Subscription, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error)
	// UpdateSubscriptionPrice swaps the subscription's single line item to
	// the new price, invoicing the prorated difference immediately and
	// permitting the subscription to land in past_due rather than failing.
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)

	// AttachPaymentMethod attaches the method to the customer; attaching an
	// already-attached method is success, not failure.
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	// LatestInvoice returns the subscription's most recent invoice, or nil
	// when it has none.
	LatestInvoice(ctx context.Context, subscriptionID string) (*Invoice, error)
}
