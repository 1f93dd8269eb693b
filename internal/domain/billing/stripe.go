package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/paymentmethod"
	"github.com/stripe/stripe-go/v76/subscription"
)

// StripeGateway implements Gateway against the Stripe API. Every call runs
// under a bounded deadline; a deadline that elapses surfaces as a retryable
// timeout rather than a gateway rejection.
type StripeGateway struct {
	timeout time.Duration
	log     zerolog.Logger
}

func NewStripeGateway(secretKey string, timeout time.Duration, log zerolog.Logger) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{timeout: timeout, log: log}
}

func (g *StripeGateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// classify translates a Stripe client error into the billing error taxonomy.
func (g *StripeGateway) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExternalServiceError{Op: op, Timeout: true, Err: err}
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return &NotFoundError{Resource: op, ID: stripeErr.Param}
	}
	return &ExternalServiceError{Op: op, Err: err}
}

func (g *StripeGateway) FindCustomerByOrg(ctx context.Context, orgID string) (*Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", MetadataOrganizationID, orgID),
			Context: ctx,
		},
	}
	iter := customer.Search(params)
	if iter.Next() {
		return customerFromStripe(iter.Customer()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, g.classify("customer.search", err)
	}
	return nil, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, orgID, name, email string) (*Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(MetadataOrganizationID, orgID)

	c, err := customer.New(params)
	if err != nil {
		return nil, g.classify("customer.create", err)
	}
	return customerFromStripe(c), nil
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customerID, name, email string) (*Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}
	if email != "" {
		params.Email = stripe.String(email)
	}

	c, err := customer.Update(customerID, params)
	if err != nil {
		return nil, g.classify("customer.update", err)
	}
	return customerFromStripe(c), nil
}

func (g *StripeGateway) FindActiveSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	iter := subscription.List(params)
	if iter.Next() {
		return subscriptionFromStripe(iter.Subscription()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, g.classify("subscription.list", err)
	}
	return nil, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, p SubscriptionParams) (*Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(p.PriceID)},
		},
	}
	params.Context = ctx
	if p.DefaultPaymentMethod != "" {
		params.DefaultPaymentMethod = stripe.String(p.DefaultPaymentMethod)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := subscription.New(params)
	if err != nil {
		return nil, g.classify("subscription.create", err)
	}
	return subscriptionFromStripe(s), nil
}

func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := subscription.Get(subscriptionID, getParams)
	if err != nil {
		return nil, g.classify("subscription.get", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, &ExternalServiceError{Op: "subscription.update", Err: fmt.Errorf("subscription %s has no line items", subscriptionID)}
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("always_invoice"),
		PaymentBehavior:   stripe.String("allow_incomplete"),
	}
	params.Context = ctx

	s, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, g.classify("subscription.update", err)
	}
	return subscriptionFromStripe(s), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	s, err := subscription.Cancel(subscriptionID, params)
	if err != nil {
		return nil, g.classify("subscription.cancel", err)
	}
	return subscriptionFromStripe(s), nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	currency := p.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(currency),
		Customer: stripe.String(p.CustomerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		// The method is reused for the recurring subscription created by the
		// webhook path once payment succeeds.
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, g.classify("payment_intent.create", err)
	}
	return paymentIntentFromStripe(pi), nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, g.classify("payment_intent.get", err)
	}
	return paymentIntentFromStripe(pi), nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	_, err := paymentmethod.Attach(paymentMethodID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && strings.Contains(stripeErr.Msg, "already been attached") {
			g.log.Debug().Str("payment_method", paymentMethodID).Msg("payment method already attached")
			return nil
		}
		return g.classify("payment_method.attach", err)
	}
	return nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := customer.Update(customerID, params); err != nil {
		return g.classify("customer.update", err)
	}
	return nil
}

func (g *StripeGateway) LatestInvoice(ctx context.Context, subscriptionID string) (*Invoice, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
	}
	params.Context = ctx

	iter := invoice.List(params)
	if iter.Next() {
		inv := iter.Invoice()
		out := &Invoice{ID: inv.ID, Paid: inv.Paid}
		if inv.PaymentIntent != nil {
			out.PaymentIntentID = inv.PaymentIntent.ID
		}
		return out, nil
	}
	if err := iter.Err(); err != nil {
		return nil, g.classify("invoice.list", err)
	}
	return nil, nil
}

func customerFromStripe(c *stripe.Customer) *Customer {
	return &Customer{ID: c.ID, Name: c.Name, Email: c.Email}
}

func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:               s.ID,
		Status:           string(s.Status),
		CurrentPeriodEnd: time.Unix(s.CurrentPeriodEnd, 0).UTC(),
		Metadata:         s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		out.PriceID = s.Items.Data[0].Price.ID
	}
	if s.CanceledAt > 0 {
		t := time.Unix(s.CanceledAt, 0).UTC()
		out.CanceledAt = &t
	}
	return out
}

func paymentIntentFromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	return out
}
