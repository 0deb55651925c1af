package errorreport

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mindreaderbio/platform/internal/pkg/env"
)

// Setup initialises Sentry when SENTRY_DSN is configured. Without a DSN every
// capture call is a no-op.
func Setup() {
	dsn := env.GetEnv("SENTRY_DSN", "")
	if dsn == "" {
		log.Info("[ErrorReport] SENTRY_DSN not set, error reporting disabled")
		return
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env.GetEnv("APP_ENV", "prod"),
		Release:          env.GetEnv("APP_RELEASE", ""),
		SampleRate:       1.0,
		AttachStacktrace: true,
	}); err != nil {
		log.Errorf("[ErrorReport] sentry init failed: %v", err)
	}
}

// Flush waits for buffered events before shutdown.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err with the given tags.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// CaptureUnresolved reports a billing event that matched no user. These need
// manual reconciliation, so they are raised as warnings with all hints attached.
func CaptureUnresolved(channel, subscriptionID, customerID string, userID uint) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTags(map[string]string{
			"component": "billing",
			"channel":   channel,
		})
		scope.SetContext("billing_hints", sentry.Context{
			"subscription_id": subscriptionID,
			"customer_id":     customerID,
			"user_id":         userID,
		})
		sentry.CaptureMessage(fmt.Sprintf("unresolved billing correlation (subscription=%q customer=%q)", subscriptionID, customerID))
	})
}

// Middleware reports errors returned by handlers that resolve to a 5xx.
// Handlers that answer 5xx themselves report their own cause.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if status >= fiber.StatusInternalServerError {
			CaptureError(err, map[string]string{
				"method": c.Method(),
				"route":  c.Route().Path,
			})
		}
		return err
	}
}
