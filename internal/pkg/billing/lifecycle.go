package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Lifecycle cancels and resumes the stored subscription at period end.
type Lifecycle struct {
	store    Store
	provider Provider
	engine   *Engine
}

func NewLifecycle(store Store, provider Provider, engine *Engine) *Lifecycle {
	return &Lifecycle{store: store, provider: provider, engine: engine}
}

// Cancel schedules the subscription to end at the close of the current
// period. The user keeps PRO until then. The returned time is when access ends.
func (l *Lifecycle) Cancel(ctx context.Context, userID uint) (*time.Time, error) {
	snap, err := l.setCancelAtPeriodEnd(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if snap.CancelAt != nil {
		return snap.CancelAt, nil
	}
	return snap.CurrentPeriodEnd, nil
}

// Resume clears a scheduled cancellation. No webhook is needed for the
// entitlement to reflect it.
func (l *Lifecycle) Resume(ctx context.Context, userID uint) error {
	_, err := l.setCancelAtPeriodEnd(ctx, userID, false)
	return err
}

func (l *Lifecycle) setCancelAtPeriodEnd(ctx context.Context, userID uint, cancel bool) (Snapshot, error) {
	user, err := l.store.UserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return Snapshot{}, err
	}
	if err != nil {
		return Snapshot{}, &PersistenceError{Op: "load user", Err: err}
	}
	subID := user.SubscriptionID()
	if subID == "" {
		return Snapshot{}, ErrNoSubscription
	}

	hints := Hints{UserID: userID, Channel: ChannelLifecycle}
	snap, err := l.provider.SetCancelAtPeriodEnd(ctx, subID, cancel)
	if errors.Is(err, ErrSubscriptionNotFound) {
		if _, rerr := l.engine.Reconcile(ctx, hints, DeletedSnapshot(subID)); rerr != nil {
			return Snapshot{}, rerr
		}
		return Snapshot{}, ErrNoSubscription
	}
	if err != nil {
		return Snapshot{}, err
	}

	res, err := l.engine.Reconcile(ctx, hints, snap)
	if err != nil {
		return Snapshot{}, err
	}
	log.Infof("[Billing] user %d: cancel_at_period_end=%t on %s (%s)", userID, cancel, subID, res.Outcome)
	return snap, nil
}
