package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/internal/pkg/entitlements"
	"github.com/mindreaderbio/platform/internal/pkg/usercontext"
)

// UserLookup loads the user behind a session. repository.UserRepository
// satisfies it.
type UserLookup interface {
	GetByID(id uint) (*models.User, error)
}

// SessionUserID extracts the logged-in user id from the request, 0 when anonymous.
type SessionUserID func(c *fiber.Ctx) (uint, error)

// UserContext sets up the user context for every request. The plan is read
// from the user row on each request so entitlement changes made by webhooks
// take effect without a new login.
func UserContext(sessionUserID SessionUserID, users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := sessionUserID(c)
		if err != nil {
			log.Warnf("[UserContext] session lookup failed: %v", err)
		}
		if err != nil || userID == 0 {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		user, err := users.GetByID(userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Errorf("[UserContext] failed to load user %d: %v", userID, err)
			}
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}
		if !user.IsActive() {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     user.ID,
			Email:      user.Email,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
			Plan:       entitlements.ForUser(user),
		})
		return c.Next()
	}
}
