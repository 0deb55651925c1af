package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/errorreport"
	"github.com/mindreaderbio/platform/internal/pkg/metrics"
)

const defaultMaxAttempts = 3

// Engine is the single writer of user entitlements. Every entry point hands
// it a snapshot plus correlation hints.
type Engine struct {
	store       Store
	resolvers   []Resolver
	notifier    Notifier
	metrics     *metrics.BillingMetrics
	onApplied   []func(userID uint)
	now         func() time.Time
	maxAttempts int
}

type EngineOption func(*Engine)

func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithResolvers(resolvers ...Resolver) EngineOption {
	return func(e *Engine) { e.resolvers = resolvers }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// OnApplied registers a hook that runs after an entitlement write commits.
func OnApplied(fn func(userID uint)) EngineOption {
	return func(e *Engine) { e.onApplied = append(e.onApplied, fn) }
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		resolvers:   DefaultResolvers(),
		notifier:    NopNotifier{},
		metrics:     metrics.Billing(),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile merges snap into the entitlement of the user the hints resolve
// to. Business outcomes (stale, superseded, unresolved, ...) are reported in
// the Result; only store failures and exhausted retries return an error.
func (e *Engine) Reconcile(ctx context.Context, hints Hints, snap Snapshot) (*Result, error) {
	if snap.SubscriptionID == "" {
		res := &Result{Outcome: OutcomeIgnored, Reason: "snapshot has no subscription id"}
		e.observe(hints, res)
		return res, nil
	}

	user, resolvedBy, err := resolveUser(ctx, e.store, e.resolvers, hints)
	if err != nil {
		return nil, &PersistenceError{Op: "resolve user", Err: err}
	}
	if user == nil {
		log.Warnf("[Billing] unresolved %s snapshot: subscription=%s customer=%s user_hint=%d",
			hints.Channel, snap.SubscriptionID, snap.CustomerID, hints.UserID)
		errorreport.CaptureUnresolved(string(hints.Channel), snap.SubscriptionID, snap.CustomerID, hints.UserID)
		res := &Result{Outcome: OutcomeUnresolved, Reason: ErrUnresolvedCorrelation.Error()}
		e.observe(hints, res)
		return res, nil
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			if user, err = e.store.UserByID(ctx, user.ID); err != nil {
				return nil, &PersistenceError{Op: "reload user", Err: err}
			}
		}

		in := decisionInput{
			stored:           EntitlementOf(user),
			storedObservedAt: user.BillingObservedAt,
			snapshot:         snap,
		}
		if in.stored.CustomerID == "" && snap.CustomerID != "" {
			taken, err := e.customerTaken(ctx, snap.CustomerID, user.ID)
			if err != nil {
				return nil, &PersistenceError{Op: "check customer owner", Err: err}
			}
			in.customerTaken = taken
		}

		d := decide(in)
		if d.customerMismatch {
			log.Warnf("[Billing] user %d: snapshot customer %s differs from stored customer %s, keeping stored",
				user.ID, snap.CustomerID, in.stored.CustomerID)
		}
		if in.customerTaken {
			log.Warnf("[Billing] user %d: customer %s already belongs to another user, not linking", user.ID, snap.CustomerID)
		}

		res := &Result{
			Outcome:     d.outcome,
			UserID:      user.ID,
			ResolvedBy:  resolvedBy,
			Previous:    in.stored,
			Entitlement: in.stored,
			SideEffects: d.effects,
			Reason:      d.reason,
		}

		var created []*models.EmailLog
		if d.outcome == OutcomeApplied {
			// Email rows commit or roll back together with the entitlement.
			entries := e.emailEntries(user, d.effects)
			created, err = e.store.UpdateEntitlement(ctx, user.ID, user.BillingVersion, d.next, d.observedAt, entries)
			if errors.Is(err, ErrVersionConflict) {
				log.Infof("[Billing] user %d: entitlement changed concurrently (attempt %d/%d)", user.ID, attempt, e.maxAttempts)
				continue
			}
			if err != nil {
				return nil, &PersistenceError{Op: "update entitlement", Err: err}
			}
			logSkippedEmails(user.ID, entries, created)
			res.Entitlement = d.next
			log.Infof("[Billing] user %d: %s -> %s via %s (subscription=%s status=%s)",
				user.ID, in.stored.Plan, d.next.Plan, hints.Channel, snap.SubscriptionID, snap.Status)
			for _, fn := range e.onApplied {
				fn(user.ID)
			}
		} else if len(d.effects) > 0 {
			if created, err = e.recordEffects(ctx, user, d.effects); err != nil {
				return nil, err
			}
		}

		e.deliver(ctx, user, created)
		e.observe(hints, res)
		return res, nil
	}

	log.Errorf("[Billing] user %d: giving up after %d conflicting updates", user.ID, e.maxAttempts)
	return nil, ErrConcurrentUpdate
}

func (e *Engine) customerTaken(ctx context.Context, customerID string, userID uint) (bool, error) {
	owner, err := e.store.UserByCustomerID(ctx, customerID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner.ID != userID, nil
}

func (e *Engine) emailEntries(user *models.User, effects []SideEffect) []*models.EmailLog {
	entries := make([]*models.EmailLog, 0, len(effects))
	for _, fx := range effects {
		entries = append(entries, &models.EmailLog{
			UserID:    user.ID,
			Email:     user.Email,
			Type:      fx.Type,
			Reference: fx.Reference,
			Subject:   fx.Subject,
			Status:    models.EmailStatusQueued,
			SentAt:    e.now().UTC(),
		})
	}
	return entries
}

// recordEffects appends email log rows for effects that do not change the
// entitlement and returns the rows that were new. A row that already exists
// means the notification was handled.
func (e *Engine) recordEffects(ctx context.Context, user *models.User, effects []SideEffect) ([]*models.EmailLog, error) {
	var created []*models.EmailLog
	for _, entry := range e.emailEntries(user, effects) {
		ok, err := e.store.RecordEmail(ctx, entry)
		if err != nil {
			return nil, &PersistenceError{Op: "record email", Err: err}
		}
		if !ok {
			log.Infof("[Billing] user %d: %s email for %s already logged", user.ID, entry.Type, entry.Reference)
			continue
		}
		created = append(created, entry)
	}
	return created, nil
}

func logSkippedEmails(userID uint, entries, created []*models.EmailLog) {
	if len(entries) == len(created) {
		return
	}
	written := make(map[*models.EmailLog]bool, len(created))
	for _, entry := range created {
		written[entry] = true
	}
	for _, entry := range entries {
		if !written[entry] {
			log.Infof("[Billing] user %d: %s email for %s already logged", userID, entry.Type, entry.Reference)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, user *models.User, entries []*models.EmailLog) {
	for _, entry := range entries {
		if err := e.notifier.Notify(ctx, user, entry); err != nil {
			log.Errorf("[Billing] user %d: %s email delivery failed: %v", user.ID, entry.Type, err)
			e.metrics.ObserveEmail(entry.Type, "dispatch_failed")
			continue
		}
		e.metrics.ObserveEmail(entry.Type, "dispatched")
	}
}

func (e *Engine) observe(hints Hints, res *Result) {
	e.metrics.ObserveReconcile(string(hints.Channel), string(res.Outcome))
}
