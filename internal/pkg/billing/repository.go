package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/app/repository"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned by Store.UpdateEntitlement on a lost race.
var ErrVersionConflict = repository.ErrVersionConflict

// GormStore adapts the app repositories to Store and EventLedger.
type GormStore struct {
	users  repository.UserRepository
	emails repository.EmailLogRepository
	events repository.WebhookEventRepository
}

// NewStore builds the store over the shared repositories.
func NewStore(repos *repository.Repositories) *GormStore {
	return &GormStore{
		users:  repos.User,
		emails: repos.EmailLog,
		events: repos.WebhookEvent,
	}
}

func (s *GormStore) UserByID(ctx context.Context, id uint) (*models.User, error) {
	_ = ctx
	return notFound(s.users.GetByID(id))
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	_ = ctx
	return notFound(s.users.GetByEmail(email))
}

func (s *GormStore) UserBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	_ = ctx
	return notFound(s.users.GetByStripeSubscriptionID(subscriptionID))
}

func (s *GormStore) UserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	_ = ctx
	return notFound(s.users.GetByStripeCustomerID(customerID))
}

func (s *GormStore) UsersWithCustomer(ctx context.Context) ([]models.User, error) {
	_ = ctx
	return s.users.ListWithStripeCustomer()
}

func (s *GormStore) UpdateEntitlement(ctx context.Context, userID, expectedVersion uint, e Entitlement, observedAt time.Time, emails []*models.EmailLog) ([]*models.EmailLog, error) {
	_ = ctx
	update := repository.BillingUpdate{
		Plan:                    string(e.Plan),
		StripeSubscriptionID:    optional(e.SubscriptionID),
		StripePriceID:           optional(e.PriceID),
		StripeCurrentPeriodEnd:  e.CurrentPeriodEnd,
		StripeCancelAtPeriodEnd: e.CancelAtPeriodEnd,
	}
	if e.CustomerID != "" {
		update.StripeCustomerID = &e.CustomerID
	}
	if !observedAt.IsZero() {
		t := observedAt.UTC()
		update.BillingObservedAt = &t
	}
	return s.users.UpdateBilling(userID, expectedVersion, update, emails)
}

func (s *GormStore) LinkCustomer(ctx context.Context, userID uint, customerID string) (bool, error) {
	_ = ctx
	return s.users.SetStripeCustomerIDIfEmpty(userID, customerID)
}

func (s *GormStore) RecordEmail(ctx context.Context, entry *models.EmailLog) (bool, error) {
	_ = ctx
	return s.emails.CreateIfNotExists(entry)
}

func (s *GormStore) RecentEmails(ctx context.Context, userID uint, limit int) ([]models.EmailLog, error) {
	_ = ctx
	return s.emails.ListByUserID(userID, limit)
}

func (s *GormStore) MarkEmailSent(ctx context.Context, emailLogID uint, at time.Time) error {
	_ = ctx
	return s.emails.MarkSent(emailLogID, at)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *GormStore) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.events.CreateIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *GormStore) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.events.MarkProcessed(webhookEventID, errMsg)
}

func notFound(u *models.User, err error) (*models.User, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
