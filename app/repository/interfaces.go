package repository

import (
	"errors"
	"time"

	"github.com/mindreaderbio/platform/app/models"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned by UpdateBilling when the row's
// billing_version no longer matches the version the caller read.
var ErrVersionConflict = errors.New("billing version conflict")

// BillingUpdate is the full set of entitlement columns written by one
// reconciliation. StripeCustomerID is only written when non-nil.
type BillingUpdate struct {
	Plan                    string
	StripeCustomerID        *string
	StripeSubscriptionID    *string
	StripePriceID           *string
	StripeCurrentPeriodEnd  *time.Time
	StripeCancelAtPeriodEnd bool
	BillingObservedAt       *time.Time
}

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByStripeCustomerID(customerID string) (*models.User, error)
	GetByStripeSubscriptionID(subscriptionID string) (*models.User, error)
	ListWithStripeCustomer() ([]models.User, error)
	UpdateBilling(id uint, expectedVersion uint, update BillingUpdate, emails []*models.EmailLog) ([]*models.EmailLog, error)
	SetStripeCustomerIDIfEmpty(id uint, customerID string) (bool, error)
	CountByPlan(plan string) (int64, error)
}

// EmailLogRepository defines the interface for the append-only email log
type EmailLogRepository interface {
	CreateIfNotExists(entry *models.EmailLog) (bool, error)
	MarkSent(id uint, at time.Time) error
	ListByUserID(userID uint, limit int) ([]models.EmailLog, error)
}

// WebhookEventRepository defines the interface for the webhook delivery ledger
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	EmailLog     EmailLogRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		EmailLog:     NewEmailLogRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
