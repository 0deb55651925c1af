package billing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

// StatusPoller refreshes a user's entitlement from the provider on demand.
// It covers users whose webhooks were lost or have not arrived yet.
type StatusPoller struct {
	store    Store
	provider Provider
	engine   *Engine
	cache    ViewCache
	timeout  time.Duration
	group    singleflight.Group
}

func NewStatusPoller(store Store, provider Provider, engine *Engine, cache ViewCache, timeout time.Duration) *StatusPoller {
	if cache == nil {
		cache = noViewCache{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StatusPoller{
		store:    store,
		provider: provider,
		engine:   engine,
		cache:    cache,
		timeout:  timeout,
	}
}

// RefreshForUser returns the user's entitlement after reconciling it with the
// provider's current subscription state. Concurrent refreshes for one user
// share a single provider call.
func (p *StatusPoller) RefreshForUser(ctx context.Context, userID uint) (*EntitlementView, error) {
	if view, ok := p.cache.Get(ctx, userID); ok {
		return view, nil
	}
	v, err, _ := p.group.Do(strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		return p.refresh(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EntitlementView), nil
}

func (p *StatusPoller) refresh(ctx context.Context, userID uint) (*EntitlementView, error) {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	subID := user.SubscriptionID()
	if subID == "" {
		view := viewFromUser(user, nil)
		p.cache.Put(ctx, view)
		return view, nil
	}

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	snap, err := p.provider.RetrieveSubscription(pctx, subID)
	cancel()
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		snap = DeletedSnapshot(subID)
	case err != nil:
		return nil, err
	}

	if _, err := p.engine.Reconcile(ctx, Hints{UserID: userID, Channel: ChannelPoll}, snap); err != nil {
		return nil, err
	}

	if user, err = p.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	view := viewFromUser(user, &snap)
	p.cache.Put(ctx, view)
	return view, nil
}

func (p *StatusPoller) loadUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := p.store.UserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load user", Err: err}
	}
	return user, nil
}

// viewFromUser renders the stored entitlement. The provider snapshot is only
// shown when it describes the subscription that is stored now.
func viewFromUser(u *models.User, snap *Snapshot) *EntitlementView {
	view := &EntitlementView{
		UserID:          u.ID,
		HasSubscription: u.SubscriptionID() != "",
		Plan:            entitlements.ParsePlan(u.Plan),
		CustomerID:      u.CustomerID(),
	}
	if snap != nil && snap.Kind == SnapshotState && snap.SubscriptionID == u.SubscriptionID() {
		view.Subscription = snap.View()
	}
	return view
}
