package billing

import (
	"context"
	"errors"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

const (
	inspectorInvoiceLimit = 10
	inspectorEmailLimit   = 20
)

// EmailHistory lists a user's logged billing emails, newest first.
type EmailHistory interface {
	RecentEmails(ctx context.Context, userID uint, limit int) ([]models.EmailLog, error)
}

// SubscriptionDetails is the admin view of one user's billing state.
type SubscriptionDetails struct {
	UserID         uint              `json:"userId"`
	Email          string            `json:"email"`
	Plan           entitlements.Plan `json:"plan"`
	CustomerID     string            `json:"customerId"`
	SubscriptionID string            `json:"subscriptionId"`
	Subscription   *SubscriptionView `json:"subscription"`
	Invoices       []Invoice         `json:"invoices"`
	Emails         []models.EmailLog `json:"emails"`
}

// Inspector reads provider details for support staff. It never writes.
type Inspector struct {
	store    Store
	provider Provider
	history  EmailHistory
}

// NewInspector builds an inspector. Stores that keep an email history get it
// included in the details.
func NewInspector(store Store, provider Provider) *Inspector {
	i := &Inspector{store: store, provider: provider}
	if h, ok := store.(EmailHistory); ok {
		i.history = h
	}
	return i
}

func (i *Inspector) Details(ctx context.Context, userID uint) (*SubscriptionDetails, error) {
	user, err := i.store.UserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load user", Err: err}
	}

	details := &SubscriptionDetails{
		UserID:         user.ID,
		Email:          user.Email,
		Plan:           entitlements.ParsePlan(user.Plan),
		CustomerID:     user.CustomerID(),
		SubscriptionID: user.SubscriptionID(),
		Invoices:       []Invoice{},
		Emails:         []models.EmailLog{},
	}
	if i.history != nil {
		emails, err := i.history.RecentEmails(ctx, user.ID, inspectorEmailLimit)
		if err != nil {
			return nil, &PersistenceError{Op: "list emails", Err: err}
		}
		if len(emails) > 0 {
			details.Emails = emails
		}
	}
	if details.SubscriptionID == "" {
		return details, nil
	}

	snap, err := i.provider.RetrieveSubscription(ctx, details.SubscriptionID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return details, nil
	case err != nil:
		return nil, err
	}
	details.Subscription = snap.View()

	invoices, err := i.provider.ListInvoices(ctx, details.SubscriptionID, inspectorInvoiceLimit)
	if err != nil {
		return nil, err
	}
	details.Invoices = invoices
	return details, nil
}
