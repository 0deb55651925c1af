package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/mindreaderbio/platform/app/models"
)

// Backfill re-derives entitlements from the provider for existing users.
// It is run by operators after outages or data fixes.
type Backfill struct {
	store    Store
	provider Provider
	engine   *Engine
	workers  int
}

func NewBackfill(store Store, provider Provider, engine *Engine, workers int) *Backfill {
	if workers <= 0 {
		workers = 1
	}
	return &Backfill{store: store, provider: provider, engine: engine, workers: workers}
}

// BackfillReport counts outcomes over a sync run.
type BackfillReport struct {
	mu       sync.Mutex
	Users    int
	Skipped  int
	Outcomes map[Outcome]int
}

func newBackfillReport() *BackfillReport {
	return &BackfillReport{Outcomes: map[Outcome]int{}}
}

func (r *BackfillReport) add(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res == nil {
		r.Skipped++
		return
	}
	r.Outcomes[res.Outcome]++
}

// SyncAll reconciles every user with a linked customer. Per-user failures do
// not stop the run; they are returned together. Cancelling ctx stops
// scheduling further users and is reported with the per-user failures.
func (b *Backfill) SyncAll(ctx context.Context) (*BackfillReport, error) {
	users, err := b.store.UsersWithCustomer(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list users with customer", Err: err}
	}

	report := newBackfillReport()
	report.Users = len(users)

	var (
		mu      sync.Mutex
		errs    *multierror.Error
		started int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range users {
		if gctx.Err() != nil {
			break
		}
		u := &users[i]
		started++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.syncUser(gctx, u)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("user %d (%s): %w", u.ID, u.Email, err))
				mu.Unlock()
				return nil
			}
			report.add(res)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("backfill stopped after scheduling %d of %d users: %w", started, len(users), err))
	}

	log.Infof("[Backfill] processed %d users, %d skipped, outcomes=%v", report.Users, report.Skipped, report.Outcomes)
	return report, errs.ErrorOrNil()
}

// SyncUser runs the backfill for one user.
func (b *Backfill) SyncUser(ctx context.Context, email string) (*Result, error) {
	user, err := b.store.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.CustomerID() == "" {
		return nil, ErrNoCustomer
	}
	return b.syncUser(ctx, user)
}

// FixUser reconciles one subscription onto a user. An empty subscriptionID
// uses the stored one.
func (b *Backfill) FixUser(ctx context.Context, email, subscriptionID string) (*Result, error) {
	user, err := b.store.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if subscriptionID == "" {
		subscriptionID = user.SubscriptionID()
	}
	if subscriptionID == "" {
		return nil, ErrNoSubscription
	}
	snap, err := b.fetch(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return b.engine.Reconcile(ctx, Hints{UserID: user.ID, Channel: ChannelBackfill}, snap)
}

// syncUser reconciles the customer's first active subscription. Without one,
// the stored subscription is re-read so a lapsed one is downgraded. A nil
// result means there was nothing to reconcile.
func (b *Backfill) syncUser(ctx context.Context, user *models.User) (*Result, error) {
	subs, err := b.provider.ListSubscriptions(ctx, user.CustomerID(), StatusActive)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	switch {
	case len(subs) > 0:
		snap = subs[0]
	case user.SubscriptionID() != "":
		if snap, err = b.fetch(ctx, user.SubscriptionID()); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	return b.engine.Reconcile(ctx, Hints{UserID: user.ID, Channel: ChannelBackfill}, snap)
}

func (b *Backfill) fetch(ctx context.Context, subscriptionID string) (Snapshot, error) {
	snap, err := b.provider.RetrieveSubscription(ctx, subscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return DeletedSnapshot(subscriptionID), nil
	}
	return snap, err
}
