package billing

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/metrics"
)

// IngestResult tells the HTTP layer what happened to a delivery. Any
// returned IngestResult means the delivery should be acknowledged.
type IngestResult struct {
	EventID   string
	Kind      EventKind
	Duplicate bool
	Outcome   Outcome
}

// WebhookIngestor verifies, records and dispatches provider webhooks.
type WebhookIngestor struct {
	provider Provider
	engine   *Engine
	ledger   EventLedger
	metrics  *metrics.BillingMetrics
}

func NewWebhookIngestor(provider Provider, engine *Engine, ledger EventLedger) *WebhookIngestor {
	return &WebhookIngestor{
		provider: provider,
		engine:   engine,
		ledger:   ledger,
		metrics:  metrics.Billing(),
	}
}

// Ingest handles one delivery. ErrInvalidSignature and ErrInvalidPayload mean
// the request is rejected and nothing was recorded; any other error should be
// answered with a 5xx so the provider retries.
func (w *WebhookIngestor) Ingest(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error) {
	evt, err := w.provider.ConstructEvent(payload, signatureHeader)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			log.Warnf("[Webhook] rejected delivery with invalid signature")
			w.metrics.ObserveWebhook("unknown", "invalid_signature")
		case errors.Is(err, ErrInvalidPayload):
			log.Warnf("[Webhook] rejected delivery: %v", err)
			w.metrics.ObserveWebhook("unknown", "invalid_payload")
		}
		return nil, err
	}

	created, stored, err := w.ledger.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		PayloadJSON:     string(evt.Payload),
		SignatureValid:  true,
	})
	if err != nil {
		w.metrics.ObserveWebhook(evt.Kind.String(), "error")
		return nil, &PersistenceError{Op: "record webhook event", Err: err}
	}
	if !created && stored.IsCompleted() {
		log.Infof("[Webhook] event %s (%s) already processed, acknowledging", evt.ID, evt.Type)
		w.metrics.ObserveWebhook(evt.Kind.String(), "duplicate")
		return &IngestResult{EventID: evt.ID, Kind: evt.Kind, Duplicate: true}, nil
	}

	outcome, dispatchErr := w.dispatch(ctx, evt)
	if err := w.ledger.MarkWebhookProcessed(ctx, stored.ID, dispatchErr); err != nil {
		log.Errorf("[Webhook] failed to mark event %s processed: %v", evt.ID, err)
		if dispatchErr == nil {
			dispatchErr = &PersistenceError{Op: "mark webhook processed", Err: err}
		}
	}
	if dispatchErr != nil {
		log.Errorf("[Webhook] event %s (%s) failed: %v", evt.ID, evt.Type, dispatchErr)
		w.metrics.ObserveWebhook(evt.Kind.String(), "error")
		return nil, dispatchErr
	}

	log.Infof("[Webhook] event %s (%s): %s", evt.ID, evt.Type, outcome)
	w.metrics.ObserveWebhook(evt.Kind.String(), string(outcome))
	return &IngestResult{EventID: evt.ID, Kind: evt.Kind, Outcome: outcome}, nil
}

func (w *WebhookIngestor) dispatch(ctx context.Context, evt *Event) (Outcome, error) {
	var (
		snap  Snapshot
		hints = Hints{Channel: ChannelWebhook}
	)

	switch evt.Kind {
	case EventCheckoutCompleted:
		c := evt.Checkout
		if c == nil || c.Mode != "subscription" || c.SubscriptionID == "" {
			return OutcomeIgnored, nil
		}
		fresh, err := w.refetch(ctx, c.SubscriptionID)
		if err != nil {
			return "", err
		}
		snap = fresh
		hints.UserID = c.UserID
		hints.CustomerID = c.CustomerID

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		snap = *evt.Subscription
		hints.SubscriptionID = snap.SubscriptionID
		hints.CustomerID = snap.CustomerID

	case EventSubscriptionDeleted:
		snap = *evt.Subscription
		hints.SubscriptionID = snap.SubscriptionID

	case EventInvoicePaymentSucceeded:
		inv := evt.Invoice
		if inv == nil || inv.SubscriptionID == "" {
			return OutcomeIgnored, nil
		}
		fresh, err := w.refetch(ctx, inv.SubscriptionID)
		if err != nil {
			return "", err
		}
		snap = fresh
		hints.SubscriptionID = inv.SubscriptionID
		hints.CustomerID = inv.CustomerID

	case EventInvoicePaymentFailed:
		inv := evt.Invoice
		if inv == nil || inv.SubscriptionID == "" {
			return OutcomeIgnored, nil
		}
		snap = PaymentFailedSnapshot(inv.SubscriptionID, inv.CustomerID, inv.ID, evt.Created)
		hints.SubscriptionID = inv.SubscriptionID

	default:
		return OutcomeIgnored, nil
	}

	res, err := w.engine.Reconcile(ctx, hints, snap)
	if err != nil {
		return "", err
	}
	return res.Outcome, nil
}

// refetch reads the current subscription state. A subscription that is gone
// by the time the event arrives is reported as deleted.
func (w *WebhookIngestor) refetch(ctx context.Context, subscriptionID string) (Snapshot, error) {
	snap, err := w.provider.RetrieveSubscription(ctx, subscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return DeletedSnapshot(subscriptionID), nil
	}
	return snap, err
}
