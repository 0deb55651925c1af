package billing

import "context"

// Provider is the narrow contract the billing core needs from the payment
// provider. Snapshots returned by API calls carry a zero ObservedAt: they are
// current as of the call and are not ordered against event times.
type Provider interface {
	// RetrieveSubscription returns ErrSubscriptionNotFound when the provider
	// no longer knows the id.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (Snapshot, error)
	ListSubscriptions(ctx context.Context, customerID, status string) ([]Snapshot, error)
	CreateCustomer(ctx context.Context, in CustomerInput) (string, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Snapshot, error)
	ListInvoices(ctx context.Context, subscriptionID string, limit int) ([]Invoice, error)
	// ConstructEvent verifies the signature header over the raw body and
	// parses the event. It returns ErrInvalidSignature or ErrInvalidPayload.
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
}

type CustomerInput struct {
	UserID uint
	Email  string
	Name   string
}

type CheckoutInput struct {
	CustomerID string
	PriceID    string
	UserID     uint
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string
	URL string
}
