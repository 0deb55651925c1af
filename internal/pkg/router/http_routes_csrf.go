package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/mindreaderbio/platform/app/controllers"
	"github.com/mindreaderbio/platform/internal/pkg/env"
	"github.com/mindreaderbio/platform/internal/pkg/middleware"
)

// registerCSRFProtectedRoutes covers form posts from the web app.
func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
	}

	group := app.Group("/user/settings", csrf.New(csrfConf))
	group.Post("/billing/resync", middleware.RequireAuth, controllers.HandleUserBillingResync)
}
