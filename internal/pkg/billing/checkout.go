package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/config"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

// CheckoutInitiator starts hosted checkout and billing portal sessions. It
// never changes a user's plan; that happens when the provider reports back.
type CheckoutInitiator struct {
	store    Store
	provider Provider
	cfg      config.Billing
}

func NewCheckoutInitiator(store Store, provider Provider, cfg config.Billing) *CheckoutInitiator {
	return &CheckoutInitiator{store: store, provider: provider, cfg: cfg}
}

// StartCheckout returns the hosted checkout URL for upgrading to plan.
func (c *CheckoutInitiator) StartCheckout(ctx context.Context, userID uint, plan string) (string, error) {
	if !strings.EqualFold(strings.TrimSpace(plan), string(entitlements.PlanPro)) {
		return "", ErrInvalidPlan
	}
	if c.cfg.SecretKey == "" {
		return "", &ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}
	if c.cfg.ProPriceID == "" {
		return "", &ConfigurationError{Setting: "STRIPE_PRO_PRICE_ID"}
	}

	user, err := c.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.IsPro() && user.SubscriptionID() != "" {
		return "", ErrAlreadySubscribed
	}

	customerID, err := c.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	session, err := c.provider.CreateCheckoutSession(ctx, CheckoutInput{
		CustomerID: customerID,
		PriceID:    c.cfg.ProPriceID,
		UserID:     user.ID,
		SuccessURL: c.cfg.SuccessURL(),
		CancelURL:  c.cfg.CancelURL(),
	})
	if err != nil {
		return "", err
	}
	log.Infof("[Checkout] user %d: created checkout session %s for customer %s", user.ID, session.ID, customerID)
	return session.URL, nil
}

// OpenBillingPortal returns a self-service portal URL for a user who has a
// provider customer.
func (c *CheckoutInitiator) OpenBillingPortal(ctx context.Context, userID uint) (string, error) {
	if c.cfg.SecretKey == "" {
		return "", &ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}
	user, err := c.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	customerID := user.CustomerID()
	if customerID == "" {
		return "", ErrNoCustomer
	}
	return c.provider.CreateBillingPortalSession(ctx, customerID, c.cfg.PortalURL())
}

// ensureCustomer returns the user's customer id, creating and linking one on
// first use. If another request linked a customer first, that one wins.
func (c *CheckoutInitiator) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if id := user.CustomerID(); id != "" {
		return id, nil
	}

	created, err := c.provider.CreateCustomer(ctx, CustomerInput{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		return "", err
	}

	linked, err := c.store.LinkCustomer(ctx, user.ID, created)
	if err != nil {
		return "", &PersistenceError{Op: "link customer", Err: err}
	}
	if linked {
		log.Infof("[Checkout] user %d: linked new customer %s", user.ID, created)
		return created, nil
	}

	fresh, err := c.loadUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if id := fresh.CustomerID(); id != "" {
		log.Infof("[Checkout] user %d: customer %s was linked concurrently, adopting it", user.ID, id)
		return id, nil
	}
	return "", &PersistenceError{Op: "link customer", Err: errors.New("customer id was not stored")}
}

func (c *CheckoutInitiator) loadUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := c.store.UserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load user", Err: err}
	}
	return user, nil
}
