package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the webhook endpoint first so it runs ahead of the
// session middleware, then the HTTP router (session store and user context)
// and the API routes that depend on it.
func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewWebhookRouter(), NewHttpRouter(deps), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
