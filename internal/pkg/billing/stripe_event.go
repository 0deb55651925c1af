package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// ConstructEvent verifies a Stripe-Signature header and parses the event.
func (p *StripeProvider) ConstructEvent(payload []byte, signatureHeader string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, &ConfigurationError{Setting: "STRIPE_WEBHOOK_SECRET"}
	}
	return constructStripeEvent(payload, signatureHeader, p.webhookSecret)
}

func constructStripeEvent(payload []byte, signatureHeader, secret string) (*Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, ErrInvalidSignature
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	out, err := parseStripeEvent(evt)
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return out, nil
}

// parseStripeEvent maps a verified event onto the closed EventKind set.
// Subscription payload snapshots are stamped with the event creation time.
func parseStripeEvent(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Kind:    EventKindFor(string(evt.Type)),
		Created: time.Unix(evt.Created, 0).UTC(),
	}
	if out.Kind == EventUnhandled {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrInvalidPayload, evt.ID)
	}
	raw := evt.Data.Raw

	switch out.Kind {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrInvalidPayload, err)
		}
		c := &CheckoutCompletion{
			SessionID: cs.ID,
			Mode:      string(cs.Mode),
			UserID:    parseUserID(cs.Metadata["userId"]),
		}
		if c.UserID == 0 {
			c.UserID = parseUserID(cs.ClientReferenceID)
		}
		if cs.Customer != nil {
			c.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			c.SubscriptionID = cs.Subscription.ID
		}
		out.Checkout = c

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrInvalidPayload, err)
		}
		snap := snapshotFromStripe(&sub)
		if out.Kind == EventSubscriptionDeleted {
			snap = DeletedSnapshot(sub.ID)
			if sub.Customer != nil {
				snap.CustomerID = sub.Customer.ID
			}
		}
		snap.ObservedAt = out.Created
		out.Subscription = &snap

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrInvalidPayload, err)
		}
		ref := &InvoiceRef{ID: inv.ID}
		if inv.Subscription != nil {
			ref.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			ref.CustomerID = inv.Customer.ID
		}
		out.Invoice = ref
	}
	return out, nil
}

func parseUserID(raw string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0
	}
	return uint(id)
}
