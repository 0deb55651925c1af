package repository

import (
	"strings"

	"github.com/mindreaderbio/platform/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", strings.TrimSpace(email)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByStripeCustomerID retrieves the user linked to a Stripe customer
func (r *userRepository) GetByStripeCustomerID(customerID string) (*models.User, error) {
	return r.firstByColumn("stripe_customer_id", customerID)
}

// GetByStripeSubscriptionID retrieves the user whose current subscription matches
func (r *userRepository) GetByStripeSubscriptionID(subscriptionID string) (*models.User, error) {
	return r.firstByColumn("stripe_subscription_id", subscriptionID)
}

func (r *userRepository) firstByColumn(column, value string) (*models.User, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	if err := r.db.Where(column+" = ?", v).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListWithStripeCustomer returns every user that has a Stripe customer linked
func (r *userRepository) ListWithStripeCustomer() ([]models.User, error) {
	var users []models.User
	err := r.db.Where("stripe_customer_id IS NOT NULL AND stripe_customer_id <> ''").
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// UpdateBilling writes the entitlement columns as one row update guarded by
// billing_version and appends the given email log rows in the same
// transaction. RowsAffected == 0 means another writer got there first.
// It returns the email rows that were new.
func (r *userRepository) UpdateBilling(id uint, expectedVersion uint, update BillingUpdate, emails []*models.EmailLog) ([]*models.EmailLog, error) {
	updates := map[string]interface{}{
		"plan":                        update.Plan,
		"stripe_subscription_id":      update.StripeSubscriptionID,
		"stripe_price_id":             update.StripePriceID,
		"stripe_current_period_end":   update.StripeCurrentPeriodEnd,
		"stripe_cancel_at_period_end": update.StripeCancelAtPeriodEnd,
		"billing_observed_at":         update.BillingObservedAt,
		"billing_version":             gorm.Expr("billing_version + 1"),
	}
	if update.StripeCustomerID != nil {
		updates["stripe_customer_id"] = update.StripeCustomerID
	}

	var created []*models.EmailLog
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND billing_version = ?", id, expectedVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		for _, entry := range emails {
			ok, err := createEmailIfNotExists(tx, entry)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetStripeCustomerIDIfEmpty links a customer only if none is stored yet.
func (r *userRepository) SetStripeCustomerIDIfEmpty(id uint, customerID string) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", id).
		Update("stripe_customer_id", customerID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// CountByPlan returns the number of users on the given plan
func (r *userRepository) CountByPlan(plan string) (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Where("plan = ?", plan).Count(&count).Error
	return count, err
}
