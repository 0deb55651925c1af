package billing

import "time"

// EventKind is the closed set of provider events the ingestor understands.
type EventKind int

const (
	EventUnhandled EventKind = iota
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaymentSucceeded
	EventInvoicePaymentFailed
)

var eventKindNames = map[EventKind]string{
	EventUnhandled:               "unhandled",
	EventCheckoutCompleted:       "checkout_completed",
	EventSubscriptionCreated:     "subscription_created",
	EventSubscriptionUpdated:     "subscription_updated",
	EventSubscriptionDeleted:     "subscription_deleted",
	EventInvoicePaymentSucceeded: "invoice_payment_succeeded",
	EventInvoicePaymentFailed:    "invoice_payment_failed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unhandled"
}

// EventKindFor maps a provider event type string to its kind.
func EventKindFor(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed":
		return EventCheckoutCompleted
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.payment_succeeded":
		return EventInvoicePaymentSucceeded
	case "invoice.payment_failed":
		return EventInvoicePaymentFailed
	default:
		return EventUnhandled
	}
}

// Event is a verified, parsed provider webhook event. Exactly one of
// Subscription, Checkout and Invoice is set for handled kinds.
type Event struct {
	ID      string
	Type    string
	Kind    EventKind
	Created time.Time
	Payload []byte

	Subscription *Snapshot
	Checkout     *CheckoutCompletion
	Invoice      *InvoiceRef
}

// CheckoutCompletion is the part of a completed checkout session we act on.
type CheckoutCompletion struct {
	SessionID      string
	Mode           string
	CustomerID     string
	SubscriptionID string
	// UserID comes from session metadata; zero when absent or malformed.
	UserID uint
}

// InvoiceRef links an invoice event back to its subscription.
type InvoiceRef struct {
	ID             string
	SubscriptionID string
	CustomerID     string
}
