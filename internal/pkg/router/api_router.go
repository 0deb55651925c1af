package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mindreaderbio/platform/app/controllers"
	"github.com/mindreaderbio/platform/internal/pkg/constants"
	"github.com/mindreaderbio/platform/internal/pkg/middleware"
)

// WebhookRouter registers the Stripe webhook. It carries no session, CSRF
// or rate limit: deliveries are authenticated by their signature and Stripe
// retries on any non-2xx response.
type WebhookRouter struct{}

func (WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post(constants.WebhookRoute, controllers.HandleStripeWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	stripe := api.Group("/stripe", middleware.RequireAPISessionAuth)
	stripe.Post("/checkout", controllers.HandleStripeCheckout)
	stripe.Post("/portal", controllers.HandleStripePortal)
	stripe.Get("/subscription/status", controllers.HandleSubscriptionStatus)
	stripe.Post("/subscription/cancel", controllers.HandleSubscriptionCancel)
	stripe.Post("/subscription/resume", controllers.HandleSubscriptionResume)

	admin := api.Group("/admin", middleware.RequireAPIAdmin)
	admin.Get("/users/:id/stripe-details", controllers.HandleAdminStripeDetails)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
