package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/mindreaderbio/platform/internal/pkg/config"
	"github.com/mindreaderbio/platform/internal/pkg/metrics"
)

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	api           *client.API
	secretKey     string
	webhookSecret string
	metrics       *metrics.BillingMetrics
}

func NewStripeProvider(cfg config.Billing) *StripeProvider {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	backend := func(t stripe.SupportedBackend) stripe.Backend {
		// GetBackendWithConfig fills in the URL, so each backend gets its own config.
		return stripe.GetBackendWithConfig(t, &stripe.BackendConfig{
			HTTPClient:    httpClient,
			LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
		})
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     backend(stripe.APIBackend),
		Connect: backend(stripe.ConnectBackend),
		Uploads: backend(stripe.UploadsBackend),
	})

	return &StripeProvider{
		api:           api,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		metrics:       metrics.Billing(),
	}
}

func (p *StripeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (Snapshot, error) {
	if err := p.configured(); err != nil {
		return Snapshot{}, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return Snapshot{}, ErrSubscriptionNotFound
		}
		return Snapshot{}, p.wrap("retrieve_subscription", err)
	}
	return snapshotFromStripe(sub), nil
}

func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID, status string) ([]Snapshot, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	if status != "" {
		params.Status = stripe.String(status)
	}
	params.Context = ctx

	var snaps []Snapshot
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		snaps = append(snaps, snapshotFromStripe(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, p.wrap("list_subscriptions", err)
	}
	return snaps, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CustomerInput) (string, error) {
	if err := p.configured(); err != nil {
		return "", err
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
	}
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	params.Context = ctx
	params.AddMetadata("userId", strconv.FormatUint(uint64(in.UserID), 10))
	// One customer per user even when two checkouts race.
	params.SetIdempotencyKey(fmt.Sprintf("customer-user-%d", in.UserID))

	cus, err := p.api.Customers.New(params)
	if err != nil {
		return "", p.wrap("create_customer", err)
	}
	return cus.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	userID := strconv.FormatUint(uint64(in.UserID), 10)
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(in.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(userID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"userId": userID},
		},
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)
	params.SetIdempotencyKey("checkout-" + uuid.NewString())

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, p.wrap("create_checkout_session", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if err := p.configured(); err != nil {
		return "", err
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && strings.Contains(strings.ToLower(se.Msg), "configuration") {
			return "", &ConfigurationError{Setting: "billing portal", Reason: se.Msg}
		}
		return "", p.wrap("create_portal_session", err)
	}
	return session.URL, nil
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Snapshot, error) {
	if err := p.configured(); err != nil {
		return Snapshot{}, err
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return Snapshot{}, ErrSubscriptionNotFound
		}
		return Snapshot{}, p.wrap("update_subscription", err)
	}
	return snapshotFromStripe(sub), nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, subscriptionID string, limit int) ([]Invoice, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	params := &stripe.InvoiceListParams{Subscription: stripe.String(subscriptionID)}
	params.Limit = stripe.Int64(int64(limit))
	params.Context = ctx

	invoices := make([]Invoice, 0, limit)
	iter := p.api.Invoices.List(params)
	for len(invoices) < limit && iter.Next() {
		invoices = append(invoices, invoiceFromStripe(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return nil, p.wrap("list_invoices", err)
	}
	return invoices, nil
}

func (p *StripeProvider) configured() error {
	if p.secretKey == "" {
		return &ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}
	return nil
}

func (p *StripeProvider) wrap(op string, err error) error {
	p.metrics.ObserveProviderError(op)
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusUnauthorized {
			return &ConfigurationError{Setting: "STRIPE_SECRET_KEY", Reason: se.Msg}
		}
		return &ProviderError{Op: op, StatusCode: se.HTTPStatusCode, Code: string(se.Code), Err: err}
	}
	return &ProviderError{Op: op, Err: err}
}

func isResourceMissing(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}

func snapshotFromStripe(s *stripe.Subscription) Snapshot {
	snap := Snapshot{
		Kind:              SnapshotState,
		SubscriptionID:    s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixTime(s.CurrentPeriodEnd),
		CancelAt:          unixTime(s.CancelAt),
	}
	if s.Customer != nil {
		snap.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		price := s.Items.Data[0].Price
		snap.PriceID = price.ID
		snap.Amount = price.UnitAmount
		snap.Currency = string(price.Currency)
	}
	return snap
}

func invoiceFromStripe(in *stripe.Invoice) Invoice {
	out := Invoice{
		ID:               in.ID,
		Amount:           in.AmountPaid,
		Currency:         string(in.Currency),
		Status:           string(in.Status),
		Created:          time.Unix(in.Created, 0).UTC(),
		InvoicePDF:       in.InvoicePDF,
		HostedInvoiceURL: in.HostedInvoiceURL,
	}
	if in.StatusTransitions != nil {
		out.PaidAt = unixTime(in.StatusTransitions.PaidAt)
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
