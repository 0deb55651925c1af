package billing

import (
	"context"
	"time"

	"github.com/mindreaderbio/platform/app/models"
)

// Store is the entitlement store the engine reads and writes. Lookups return
// ErrUserNotFound when no row matches.
type Store interface {
	UserByID(ctx context.Context, id uint) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error)
	UserByCustomerID(ctx context.Context, customerID string) (*models.User, error)
	UsersWithCustomer(ctx context.Context) ([]models.User, error)

	// UpdateEntitlement writes e as one row update if the stored
	// billing_version still equals expectedVersion, and appends emails in
	// the same transaction. Emails already logged for the same
	// (user, type, reference) are skipped; the rows actually written are
	// returned. On ErrVersionConflict or any error nothing is written.
	UpdateEntitlement(ctx context.Context, userID, expectedVersion uint, e Entitlement, observedAt time.Time, emails []*models.EmailLog) ([]*models.EmailLog, error)
	// LinkCustomer stores customerID only when the user has none yet.
	LinkCustomer(ctx context.Context, userID uint, customerID string) (bool, error)
	// RecordEmail appends an email log row unless one exists for the same
	// (user, type, reference).
	RecordEmail(ctx context.Context, entry *models.EmailLog) (bool, error)
}

// EventLedger persists provider webhook deliveries.
type EventLedger interface {
	RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
}

// WebhookEventInput is a verified delivery to be recorded in the ledger.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
