package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mindreaderbio/platform/internal/pkg/billing"
)

// Global billing controller instance
var billingController *BillingController

// InitializeBillingController installs the global billing controller.
func InitializeBillingController(svc *billing.Service, resyncRedirect string) {
	billingController = NewBillingController(svc, resyncRedirect)
}

// GetBillingController returns the global billing controller instance
func GetBillingController() *BillingController {
	if billingController == nil {
		panic("billing controller not initialized. Call InitializeBillingController first.")
	}
	return billingController
}

// Adapter functions used by the router

func HandleStripeWebhook(c *fiber.Ctx) error {
	return GetBillingController().HandleWebhook(c)
}

func HandleStripeCheckout(c *fiber.Ctx) error {
	return GetBillingController().HandleCheckout(c)
}

func HandleStripePortal(c *fiber.Ctx) error {
	return GetBillingController().HandlePortal(c)
}

func HandleSubscriptionStatus(c *fiber.Ctx) error {
	return GetBillingController().HandleSubscriptionStatus(c)
}

func HandleSubscriptionCancel(c *fiber.Ctx) error {
	return GetBillingController().HandleCancel(c)
}

func HandleSubscriptionResume(c *fiber.Ctx) error {
	return GetBillingController().HandleResume(c)
}

// HandleUserBillingResync - Adapter for the web resync form
func HandleUserBillingResync(c *fiber.Ctx) error {
	return GetBillingController().HandleResync(c)
}

// HandleAdminStripeDetails - Adapter for the admin billing diagnostics
func HandleAdminStripeDetails(c *fiber.Ctx) error {
	return GetBillingController().HandleAdminStripeDetails(c)
}
