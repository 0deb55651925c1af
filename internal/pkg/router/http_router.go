package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mindreaderbio/platform/internal/pkg/middleware"
	"github.com/mindreaderbio/platform/internal/pkg/session"
)

// Deps are the collaborators the routers need from main.
type Deps struct {
	Users    middleware.UserLookup
	Registry *prometheus.Registry
}

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally
	app.Use(middleware.UserContext(session.UserID, h.deps.Users))

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
