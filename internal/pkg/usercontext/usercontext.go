package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint              `json:"user_id"`
	Email      string            `json:"email"`
	IsLoggedIn bool              `json:"is_logged_in"`
	IsAdmin    bool              `json:"is_admin"`
	Plan       entitlements.Plan `json:"plan"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(LocalsKey).(UserContext); ok {
		return ctx
	}
	return UserContext{Plan: entitlements.PlanFree}
}

// Set stores the user context for the rest of the request.
func Set(c *fiber.Ctx, uc UserContext) {
	if uc.Plan == "" {
		uc.Plan = entitlements.PlanFree
	}
	c.Locals(LocalsKey, uc)
}

func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// IsPro reports whether the current user holds the PRO entitlement.
func IsPro(c *fiber.Ctx) bool {
	return entitlements.HasProAccess(GetUserContext(c).Plan)
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
