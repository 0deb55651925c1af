package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/mindreaderbio/platform/internal/pkg/billing"
	"github.com/mindreaderbio/platform/internal/pkg/errorreport"
	"github.com/mindreaderbio/platform/internal/pkg/usercontext"
)

const (
	webhookTimeout = 15 * time.Second
	requestTimeout = 20 * time.Second
)

type webhookIngestor interface {
	Ingest(ctx context.Context, payload []byte, signatureHeader string) (*billing.IngestResult, error)
}

type checkoutService interface {
	StartCheckout(ctx context.Context, userID uint, plan string) (string, error)
	OpenBillingPortal(ctx context.Context, userID uint) (string, error)
}

type statusPoller interface {
	RefreshForUser(ctx context.Context, userID uint) (*billing.EntitlementView, error)
}

type lifecycleService interface {
	Cancel(ctx context.Context, userID uint) (*time.Time, error)
	Resume(ctx context.Context, userID uint) error
}

type subscriptionInspector interface {
	Details(ctx context.Context, userID uint) (*billing.SubscriptionDetails, error)
}

// BillingController serves the Stripe billing API and webhook endpoint.
type BillingController struct {
	webhooks  webhookIngestor
	checkout  checkoutService
	poller    statusPoller
	lifecycle lifecycleService
	inspector subscriptionInspector
	validate  *validator.Validate
	// resyncRedirect is where the web resync form lands afterwards.
	resyncRedirect string
}

func NewBillingController(svc *billing.Service, resyncRedirect string) *BillingController {
	return &BillingController{
		webhooks:       svc.Webhooks,
		checkout:       svc.Checkout,
		poller:         svc.Poller,
		lifecycle:      svc.Lifecycle,
		inspector:      svc.Inspector,
		validate:       validator.New(),
		resyncRedirect: resyncRedirect,
	}
}

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// HandleWebhook verifies and ingests one Stripe delivery. Stripe retries any
// non-2xx response, so only failures worth retrying return 500.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	res, err := bc.webhooks.Ingest(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
		case errors.Is(err, billing.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
		default:
			log.Errorf("[Webhook] processing failed: %v", err)
			errorreport.CaptureError(err, map[string]string{"component": "webhook"})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook processing failed"})
		}
	}

	return c.JSON(fiber.Map{
		"received":  true,
		"duplicate": res.Duplicate,
		"outcome":   res.Outcome,
	})
}

func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request", "details": "body must be JSON"})
	}
	if err := bc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request", "details": "plan is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	url, err := bc.checkout.StartCheckout(ctx, userCtx.UserID, req.Plan)
	if err != nil {
		return billingError(c, "checkout", err, fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"url": url})
}

func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	url, err := bc.checkout.OpenBillingPortal(ctx, userCtx.UserID)
	if err != nil {
		return billingError(c, "portal", err, fiber.StatusBadRequest)
	}
	return c.JSON(fiber.Map{"url": url})
}

func (bc *BillingController) HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	view, err := bc.poller.RefreshForUser(ctx, userCtx.UserID)
	if err != nil {
		return billingError(c, "status", err, fiber.StatusInternalServerError)
	}
	return c.JSON(view)
}

func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	cancelAt, err := bc.lifecycle.Cancel(ctx, userCtx.UserID)
	if err != nil {
		return billingError(c, "cancel", err, fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "Subscription will be canceled at the end of the billing period",
		"cancelAt": cancelAt,
	})
}

func (bc *BillingController) HandleResume(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := bc.lifecycle.Resume(ctx, userCtx.UserID); err != nil {
		return billingError(c, "resume", err, fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Subscription resumed",
	})
}

// HandleResync re-polls the provider for the logged-in user and reports the
// resulting plan through a flash message.
func (bc *BillingController) HandleResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	view, err := bc.poller.RefreshForUser(ctx, userCtx.UserID)
	if err != nil {
		log.Warnf("[Billing] resync for user %d failed: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Subscription status could not be refreshed, please try again"}).Redirect(bc.resyncRedirect)
	}

	msg := fmt.Sprintf("Subscription status refreshed. Active plan: %s", view.Plan)
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": msg}).Redirect(bc.resyncRedirect)
}

// HandleAdminStripeDetails returns the provider side view of one user's
// subscription and recent invoices.
func (bc *BillingController) HandleAdminStripeDetails(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	details, err := bc.inspector.Details(ctx, uint(id))
	if err != nil {
		return billingError(c, "admin_details", err, fiber.StatusInternalServerError)
	}
	return c.JSON(details)
}

// billingError maps the billing error taxonomy onto {error, details}
// responses. configStatus is the status used for configuration errors, which
// differs between endpoints.
func billingError(c *fiber.Ctx, op string, err error, configStatus int) error {
	status, msg, details := fiber.StatusInternalServerError, "internal error", "please contact support"

	var providerErr *billing.ProviderError
	switch {
	case errors.Is(err, billing.ErrUserNotFound):
		status, msg, details = fiber.StatusNotFound, "user not found", "the account does not exist"
	case errors.Is(err, billing.ErrInvalidPlan):
		status, msg, details = fiber.StatusBadRequest, "invalid plan", "only the PRO plan can be purchased"
	case errors.Is(err, billing.ErrAlreadySubscribed):
		status, msg, details = fiber.StatusBadRequest, "already subscribed", "you already have an active subscription"
	case errors.Is(err, billing.ErrNoCustomer):
		status, msg, details = fiber.StatusBadRequest, "no billing account", "start a subscription first"
	case errors.Is(err, billing.ErrNoSubscription):
		status, msg, details = fiber.StatusBadRequest, "no active subscription", "there is no subscription to change"
	case billing.IsConfigurationError(err):
		status, msg, details = configStatus, "billing is not configured", "please contact support"
	case errors.As(err, &providerErr):
		status, msg, details = fiber.StatusBadGateway, "payment provider unavailable", "please try again"
	case errors.Is(err, billing.ErrConcurrentUpdate):
		status, msg, details = fiber.StatusConflict, "subscription is being updated", "please try again"
	}

	if status >= fiber.StatusInternalServerError {
		log.Errorf("[Billing] %s failed: %v", op, err)
		errorreport.CaptureError(err, map[string]string{"component": "billing", "operation": op})
	} else {
		log.Infof("[Billing] %s rejected: %v", op, err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg, "details": details})
}
