package billing

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/mindreaderbio/platform/app/repository"
	"github.com/mindreaderbio/platform/internal/pkg/config"
	"github.com/mindreaderbio/platform/internal/pkg/jobqueue"
	"github.com/mindreaderbio/platform/internal/pkg/mail"
)

// Service bundles the billing entry points around one engine.
type Service struct {
	Engine    *Engine
	Webhooks  *WebhookIngestor
	Poller    *StatusPoller
	Checkout  *CheckoutInitiator
	Lifecycle *Lifecycle
	Backfill  *Backfill
	Inspector *Inspector

	// EmailQueue is the outbox worker pool, nil when emails are sent inline.
	// The caller owns Start and Stop.
	EmailQueue *jobqueue.Queue
}

// EmailOutbox is the job queue billing emails are handed to.
type EmailOutbox interface {
	Enqueuer
	Handle(jobType jobqueue.JobType, h jobqueue.Handler)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store    Store
	Ledger   EventLedger
	Provider Provider
	Config   config.Billing
	Cache    ViewCache
	Notifier Notifier
	// Sent, when set, records delivered emails as SENT.
	Sent SentRecorder
	// Queue, when set, moves delivery off the reconciliation path.
	Queue EmailOutbox
}

// NewService wires the entry points. A nil Cache disables view caching and a
// nil Notifier drops emails after logging them. With a Queue the engine only
// enqueues and the queue's handler does the sending.
func NewService(d Deps) *Service {
	viewCache := d.Cache
	if viewCache == nil {
		viewCache = noViewCache{}
	}
	var notifier Notifier = NopNotifier{}
	if d.Notifier != nil {
		notifier = d.Notifier
		if d.Sent != nil {
			notifier = NewDeliveringNotifier(notifier, d.Sent)
		}
		if d.Queue != nil {
			d.Queue.Handle(EmailJobType, EmailJobHandler(notifier))
			notifier = NewQueuedNotifier(d.Queue)
		}
	}

	engine := NewEngine(d.Store,
		WithNotifier(notifier),
		OnApplied(func(userID uint) {
			viewCache.Invalidate(context.Background(), userID)
		}),
	)

	return &Service{
		Engine:    engine,
		Webhooks:  NewWebhookIngestor(d.Provider, engine, d.Ledger),
		Poller:    NewStatusPoller(d.Store, d.Provider, engine, viewCache, d.Config.ProviderTimeout),
		Checkout:  NewCheckoutInitiator(d.Store, d.Provider, d.Config),
		Lifecycle: NewLifecycle(d.Store, d.Provider, engine),
		Backfill:  NewBackfill(d.Store, d.Provider, engine, d.Config.BackfillWorkers),
		Inspector: NewInspector(d.Store, d.Provider),
	}
}

// NewServiceFromRepositories builds the production service on the shared
// GORM repositories, Redis and Stripe.
func NewServiceFromRepositories(repos *repository.Repositories, rdb *redis.Client, cfg config.Billing, mailer mail.Mailer) *Service {
	store := NewStore(repos)
	deps := Deps{
		Store:    store,
		Ledger:   store,
		Provider: NewStripeProvider(cfg),
		Config:   cfg,
		Notifier: NewMailNotifier(mailer, cfg.PortalURL()),
		Sent:     store,
	}
	var queue *jobqueue.Queue
	if rdb != nil {
		deps.Cache = NewRedisViewCache(rdb, cfg.ViewCacheTTL)
		if cfg.EmailWorkers > 0 {
			queue = jobqueue.NewQueue(rdb, EmailQueueName, cfg.EmailWorkers)
			deps.Queue = queue
		}
	}
	svc := NewService(deps)
	svc.EmailQueue = queue
	return svc
}
