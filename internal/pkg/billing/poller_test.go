package billing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

type memoryViewCache struct {
	mu    sync.Mutex
	views map[uint]EntitlementView
}

func newMemoryViewCache() *memoryViewCache {
	return &memoryViewCache{views: map[uint]EntitlementView{}}
}

func (c *memoryViewCache) Get(_ context.Context, userID uint) (*EntitlementView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[userID]
	if !ok {
		return nil, false
	}
	return &v, true
}

func (c *memoryViewCache) Put(_ context.Context, view *EntitlementView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.UserID] = *view
}

func (c *memoryViewCache) Invalidate(_ context.Context, userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, userID)
}

func TestRefreshWithoutSubscriptionSkipsProvider(t *testing.T) {
	h := newHarness(newTestUser(1, "u1@example.com"))

	view, err := h.svc.Poller.RefreshForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, view.HasSubscription)
	assert.Equal(t, entitlements.PlanFree, view.Plan)
	assert.Nil(t, view.Subscription)
	assert.Equal(t, 0, h.provider.retrieves())
}

func TestRefreshRepairsMissedWebhook(t *testing.T) {
	u := newTestUser(1, "u1@example.com")
	u.StripeCustomerID = strPtr("cus_1")
	u.StripeSubscriptionID = strPtr("sub_1")
	h := newHarness(u)
	h.provider.put(activeSnapshot("sub_1", "cus_1", h.clock.Now()))

	view, err := h.svc.Poller.RefreshForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, view.HasSubscription)
	assert.Equal(t, entitlements.PlanPro, view.Plan)
	require.NotNil(t, view.Subscription)
	assert.Equal(t, "sub_1", view.Subscription.ID)
	assert.Equal(t, StatusActive, view.Subscription.Status)
	assert.Equal(t, int64(999), view.Subscription.Amount)
	assert.Equal(t, "cus_1", view.CustomerID)
	assert.Equal(t, models.PLAN_PRO, h.store.user(1).Plan)
}

func TestRefreshTreatsMissingSubscriptionAsDeleted(t *testing.T) {
	u := newTestUser(1, "u1@example.com")
	u.Plan = models.PLAN_PRO
	u.StripeCustomerID = strPtr("cus_1")
	u.StripeSubscriptionID = strPtr("sub_gone")
	h := newHarness(u)

	view, err := h.svc.Poller.RefreshForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, view.HasSubscription)
	assert.Equal(t, entitlements.PlanFree, view.Plan)
	assert.Nil(t, h.store.user(1).StripeSubscriptionID)
}

func TestRefreshSurfacesProviderErrors(t *testing.T) {
	u := newTestUser(1, "u1@example.com")
	u.StripeSubscriptionID = strPtr("sub_1")
	h := newHarness(u)
	h.provider.retrieveErr = &ProviderError{Op: "retrieve_subscription", StatusCode: 500, Err: errBoom}

	_, err := h.svc.Poller.RefreshForUser(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
}

func TestRefreshUnknownUser(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Poller.RefreshForUser(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRefreshUsesCacheUntilEntitlementChanges(t *testing.T) {
	u := newTestUser(1, "u1@example.com")
	u.StripeCustomerID = strPtr("cus_1")
	u.StripeSubscriptionID = strPtr("sub_1")
	store := newFakeStore(u)
	provider := newFakeProvider(activeSnapshot("sub_1", "cus_1", newFakeClock().Now()))
	views := newMemoryViewCache()
	svc := NewService(Deps{Store: store, Ledger: store, Provider: provider, Config: testBillingConfig(), Cache: views})
	ctx := context.Background()

	_, err := svc.Poller.RefreshForUser(ctx, 1)
	require.NoError(t, err)
	_, err = svc.Poller.RefreshForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.retrieves())

	// A write through the engine drops the cached view.
	_, err = svc.Engine.Reconcile(ctx, Hints{UserID: 1}, DeletedSnapshot("sub_1"))
	require.NoError(t, err)
	_, ok := views.Get(ctx, 1)
	assert.False(t, ok)
}
