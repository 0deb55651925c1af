package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/mindreaderbio/platform/internal/pkg/cache"
	"github.com/mindreaderbio/platform/internal/pkg/env"
)

// Keys written by the identity system.
const (
	KeyUserID = "user_id"
)

var sessionStore *session.Store

// NewSessionStore backs sessions with the cache Redis instance on a separate
// database. Sessions are issued by the identity system; this service only
// reads them.
func NewSessionStore() *session.Store {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	db, err := strconv.Atoi(env.GetEnv("SESSION_DB", "1"))
	if err != nil {
		db = 1
	}

	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: db,
		Reset:    false,
	})

	sessionStore = session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		Expiration:     24 * time.Hour,
		KeyLookup:      "cookie:session_id",
	})

	return sessionStore
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetStore replaces the session store, used by tests with in-memory storage.
func SetStore(s *session.Store) {
	sessionStore = s
}

// UserID returns the logged-in user id carried by the session, or 0.
func UserID(c *fiber.Ctx) (uint, error) {
	if sessionStore == nil {
		return 0, fmt.Errorf("session store not initialized")
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return 0, fmt.Errorf("failed to get session: %w", err)
	}

	switch v := sess.Get(KeyUserID).(type) {
	case uint:
		return v, nil
	case int:
		if v > 0 {
			return uint(v), nil
		}
	case string:
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			return uint(id), nil
		}
	}
	return 0, nil
}
