package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindreaderbio/platform/app/models"
)

func TestCancelThenResume(t *testing.T) {
	u := newTestUser(1, "u1@example.com")
	u.StripeCustomerID = strPtr("cus_1")
	u.StripeSubscriptionID = strPtr("sub_1")
	u.Plan = models.PLAN_PRO
	h := newHarness(u)
	snap := activeSnapshot("sub_1", "cus_1", h.clock.Now())
	h.provider.put(snap)
	ctx := context.Background()

	cancelAt, err := h.svc.Lifecycle.Cancel(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, cancelAt)
	assert.True(t, cancelAt.Equal(*snap.CurrentPeriodEnd))

	stored := h.store.user(1)
	assert.Equal(t, models.PLAN_PRO, stored.Plan)
	assert.True(t, stored.StripeCancelAtPeriodEnd)

	require.NoError(t, h.svc.Lifecycle.Resume(ctx, 1))
	stored = h.store.user(1)
	assert.Equal(t, models.PLAN_PRO, stored.Plan)
	assert.False(t, stored.StripeCancelAtPeriodEnd)
	assert.Equal(t, 2, h.provider.updateSubCalls)
}

func TestCancelWithoutSubscription(t *testing.T) {
	h := newHarness(newTestUser(1, "u1@example.com"))

	_, err := h.svc.Lifecycle.Cancel(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSubscription)
	assert.Equal(t, 0, h.provider.updateSubCalls)
}

func TestCancelOfVanishedSubscriptionDowngrades(t *testing.T) {
	u := newTestUser(1, "u1@example.com")
	u.StripeSubscriptionID = strPtr("sub_gone")
	u.Plan = models.PLAN_PRO
	h := newHarness(u)

	_, err := h.svc.Lifecycle.Cancel(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSubscription)
	assert.Equal(t, models.PLAN_FREE, h.store.user(1).Plan)
	assert.Nil(t, h.store.user(1).StripeSubscriptionID)
}
