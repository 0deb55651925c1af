package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindreaderbio/platform/app/models"
)

func TestStartCheckoutCreatesCustomerOnce(t *testing.T) {
	h := newHarness(newTestUser(1, "u1@example.com"))
	ctx := context.Background()

	url, err := h.svc.Checkout.StartCheckout(ctx, 1, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", url)

	_, err = h.svc.Checkout.StartCheckout(ctx, 1, "PRO")
	require.NoError(t, err)

	require.Len(t, h.provider.customers, 1)
	assert.Equal(t, "u1@example.com", h.provider.customers[0].Email)
	require.Len(t, h.provider.checkouts, 2)
	in := h.provider.checkouts[0]
	assert.Equal(t, "cus_1", in.CustomerID)
	assert.Equal(t, "price_pro", in.PriceID)
	assert.Equal(t, uint(1), in.UserID)
	assert.Equal(t, "https://app.example.com/dashboard?success=true", in.SuccessURL)
	assert.Equal(t, "https://app.example.com/pricing?canceled=true", in.CancelURL)
	assert.Equal(t, models.PLAN_FREE, h.store.user(1).Plan)
}

func TestStartCheckoutValidation(t *testing.T) {
	pro := newTestUser(2, "pro@example.com")
	pro.Plan = models.PLAN_PRO
	pro.StripeSubscriptionID = strPtr("sub_2")
	h := newHarness(newTestUser(1, "u1@example.com"), pro)
	ctx := context.Background()

	_, err := h.svc.Checkout.StartCheckout(ctx, 1, "ENTERPRISE")
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = h.svc.Checkout.StartCheckout(ctx, 2, "PRO")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	_, err = h.svc.Checkout.StartCheckout(ctx, 99, "PRO")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.Empty(t, h.provider.customers)
}

func TestStartCheckoutRequiresConfiguration(t *testing.T) {
	store := newFakeStore(newTestUser(1, "u1@example.com"))
	provider := newFakeProvider()
	ctx := context.Background()

	cfg := testBillingConfig()
	cfg.ProPriceID = ""
	_, err := NewCheckoutInitiator(store, provider, cfg).StartCheckout(ctx, 1, "PRO")
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "STRIPE_PRO_PRICE_ID", ce.Setting)

	cfg = testBillingConfig()
	cfg.SecretKey = ""
	_, err = NewCheckoutInitiator(store, provider, cfg).StartCheckout(ctx, 1, "PRO")
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, provider.customers)
}

// raceStore links a different customer just before the caller's link lands.
type raceStore struct {
	*fakeStore
}

func (s raceStore) LinkCustomer(ctx context.Context, userID uint, customerID string) (bool, error) {
	_, _ = s.fakeStore.LinkCustomer(ctx, userID, "cus_winner")
	return s.fakeStore.LinkCustomer(ctx, userID, customerID)
}

func TestStartCheckoutAdoptsConcurrentlyLinkedCustomer(t *testing.T) {
	store := raceStore{newFakeStore(newTestUser(1, "u1@example.com"))}
	provider := newFakeProvider()

	_, err := NewCheckoutInitiator(store, provider, testBillingConfig()).StartCheckout(context.Background(), 1, "PRO")
	require.NoError(t, err)
	assert.Equal(t, "cus_winner", store.user(1).CustomerID())
	require.Len(t, provider.checkouts, 1)
	assert.Equal(t, "cus_winner", provider.checkouts[0].CustomerID)
}

func TestOpenBillingPortal(t *testing.T) {
	linked := newTestUser(2, "linked@example.com")
	linked.StripeCustomerID = strPtr("cus_2")
	h := newHarness(newTestUser(1, "u1@example.com"), linked)
	ctx := context.Background()

	_, err := h.svc.Checkout.OpenBillingPortal(ctx, 1)
	assert.ErrorIs(t, err, ErrNoCustomer)

	url, err := h.svc.Checkout.OpenBillingPortal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/cus_2?return=https://app.example.com/dashboard", url)

	h.provider.portalErr = &ConfigurationError{Setting: "billing portal"}
	_, err = h.svc.Checkout.OpenBillingPortal(ctx, 2)
	assert.True(t, IsConfigurationError(err))
}
