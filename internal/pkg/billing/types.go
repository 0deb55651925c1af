package billing

import (
	"time"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

// Channel names the entry point that handed a snapshot to the engine.
type Channel string

const (
	ChannelWebhook   Channel = "webhook"
	ChannelPoll      Channel = "poll"
	ChannelCheckout  Channel = "checkout"
	ChannelLifecycle Channel = "lifecycle"
	ChannelBackfill  Channel = "backfill"
)

// SnapshotKind distinguishes a full subscription state from the two
// degenerate shapes the provider reports.
type SnapshotKind int

const (
	SnapshotState SnapshotKind = iota
	SnapshotDeleted
	SnapshotPaymentFailed
)

// Snapshot is a point-in-time view of one provider subscription.
type Snapshot struct {
	Kind              SnapshotKind
	SubscriptionID    string
	CustomerID        string
	Status            string
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	Amount            int64
	Currency          string
	// InvoiceID is set on payment-failed snapshots.
	InvoiceID string
	// ObservedAt is the provider event time the state was true. It is only
	// set from provider timestamps; snapshots read from the API leave it zero
	// so the local clock never feeds the staleness guard.
	ObservedAt time.Time
}

// DeletedSnapshot is the snapshot for a subscription the provider removed.
func DeletedSnapshot(subscriptionID string) Snapshot {
	return Snapshot{
		Kind:           SnapshotDeleted,
		SubscriptionID: subscriptionID,
		Status:         StatusCanceled,
	}
}

// PaymentFailedSnapshot carries only what a failed invoice tells us.
func PaymentFailedSnapshot(subscriptionID, customerID, invoiceID string, observedAt time.Time) Snapshot {
	return Snapshot{
		Kind:           SnapshotPaymentFailed,
		SubscriptionID: subscriptionID,
		CustomerID:     customerID,
		InvoiceID:      invoiceID,
		ObservedAt:     observedAt,
	}
}

// View renders the snapshot for the status endpoint.
func (s Snapshot) View() *SubscriptionView {
	return &SubscriptionView{
		ID:                s.SubscriptionID,
		Status:            s.Status,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CancelAt:          s.CancelAt,
		PriceID:           s.PriceID,
		Amount:            s.Amount,
		Currency:          s.Currency,
	}
}

// Hints are the correlation keys an entry point knows about. Resolvers try
// them in priority order.
type Hints struct {
	UserID         uint
	SubscriptionID string
	CustomerID     string
	Channel        Channel
}

// Entitlement is the billing slice of a user row.
type Entitlement struct {
	Plan              entitlements.Plan
	CustomerID        string
	SubscriptionID    string
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

// EntitlementOf reads the stored entitlement from a user row.
func EntitlementOf(u *models.User) Entitlement {
	return Entitlement{
		Plan:              entitlements.ParsePlan(u.Plan),
		CustomerID:        u.CustomerID(),
		SubscriptionID:    u.SubscriptionID(),
		PriceID:           u.PriceID(),
		CurrentPeriodEnd:  u.StripeCurrentPeriodEnd,
		CancelAtPeriodEnd: u.StripeCancelAtPeriodEnd,
	}
}

// Equal compares every field.
func (e Entitlement) Equal(o Entitlement) bool {
	return e.Plan == o.Plan &&
		e.CustomerID == o.CustomerID &&
		e.SubscriptionID == o.SubscriptionID &&
		e.PriceID == o.PriceID &&
		e.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		timePtrEqual(e.CurrentPeriodEnd, o.CurrentPeriodEnd)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// SideEffect is a notification decided by the engine.
type SideEffect struct {
	Type      string
	Reference string
	Subject   string
}

// Outcome classifies what a reconciliation did.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeNoop       Outcome = "noop"
	OutcomeStale      Outcome = "stale"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeNotified   Outcome = "notified"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeIgnored    Outcome = "ignored"
)

// Result is returned for every business-logic branch. Only infrastructure
// failures come back as errors.
type Result struct {
	Outcome     Outcome
	UserID      uint
	ResolvedBy  string
	Previous    Entitlement
	Entitlement Entitlement
	SideEffects []SideEffect
	Reason      string
}

// SubscriptionView is the provider subscription as shown to the user.
type SubscriptionView struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CancelAt          *time.Time `json:"cancelAt"`
	PriceID           string     `json:"priceId"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
}

// EntitlementView is the refreshed state returned by the status poller.
type EntitlementView struct {
	UserID          uint              `json:"-"`
	HasSubscription bool              `json:"hasSubscription"`
	Plan            entitlements.Plan `json:"plan"`
	Subscription    *SubscriptionView `json:"subscription,omitempty"`
	CustomerID      string            `json:"customerId,omitempty"`
}

// Invoice is a provider invoice summary for the admin billing view.
type Invoice struct {
	ID               string     `json:"id"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	Created          time.Time  `json:"created"`
	PaidAt           *time.Time `json:"paidAt"`
	InvoicePDF       string     `json:"invoicePdf"`
	HostedInvoiceURL string     `json:"hostedInvoiceUrl"`
}
