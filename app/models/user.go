package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

const (
	PLAN_FREE = "FREE"
	PLAN_PRO  = "PRO"
)

// User is the account row. The stripe_* columns form the billing entitlement
// and are only written through the billing reconciliation engine.
type User struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email  string `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role   string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`

	Plan                    string     `gorm:"type:varchar(10);not null;default:'FREE';index" json:"plan" validate:"oneof=FREE PRO"`
	StripeCustomerID        *string    `gorm:"type:varchar(191);uniqueIndex" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID    *string    `gorm:"type:varchar(191);uniqueIndex" json:"stripe_subscription_id,omitempty"`
	StripePriceID           *string    `gorm:"type:varchar(191)" json:"stripe_price_id,omitempty"`
	StripeCurrentPeriodEnd  *time.Time `gorm:"type:timestamp;default:null" json:"stripe_current_period_end,omitempty"`
	StripeCancelAtPeriodEnd bool       `gorm:"default:false" json:"stripe_cancel_at_period_end"`
	BillingObservedAt       *time.Time `gorm:"type:timestamp(3);default:null" json:"-"`
	BillingVersion          uint       `gorm:"not null;default:0" json:"-"`

	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds a FREE user with no billing linkage.
func NewUser(name, email string) (*User, error) {
	u := &User{
		Name:   name,
		Email:  email,
		Role:   ROLE_USER,
		Status: STATUS_ACTIVE,
		Plan:   PLAN_FREE,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// IsAdmin reports whether the user carries the admin role
func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

// IsPro reports whether the stored plan grants PRO access
func (u *User) IsPro() bool {
	return u.Plan == PLAN_PRO
}

// CustomerID returns the stored Stripe customer id or "".
func (u *User) CustomerID() string {
	return deref(u.StripeCustomerID)
}

// SubscriptionID returns the stored Stripe subscription id or "".
func (u *User) SubscriptionID() string {
	return deref(u.StripeSubscriptionID)
}

// PriceID returns the stored Stripe price id or "".
func (u *User) PriceID() string {
	return deref(u.StripePriceID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
