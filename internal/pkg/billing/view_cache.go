package billing

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/mindreaderbio/platform/internal/pkg/cache"
)

// ViewCache holds recently refreshed entitlement views.
type ViewCache interface {
	Get(ctx context.Context, userID uint) (*EntitlementView, bool)
	Put(ctx context.Context, view *EntitlementView)
	Invalidate(ctx context.Context, userID uint)
}

// RedisViewCache stores views under billing:view:<userID>. Cache failures are
// logged and treated as misses.
type RedisViewCache struct {
	store *cache.JSONStore
	ttl   time.Duration
}

func NewRedisViewCache(rdb *redis.Client, ttl time.Duration) *RedisViewCache {
	return &RedisViewCache{store: cache.NewJSONStore(rdb, "billing:view:"), ttl: ttl}
}

func (c *RedisViewCache) Get(ctx context.Context, userID uint) (*EntitlementView, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	var view EntitlementView
	ok, err := c.store.Load(ctx, viewKey(userID), &view)
	if err != nil {
		log.Warnf("[Billing] view cache read for user %d failed: %v", userID, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	view.UserID = userID
	return &view, true
}

func (c *RedisViewCache) Put(ctx context.Context, view *EntitlementView) {
	if c.ttl <= 0 || view == nil {
		return
	}
	if err := c.store.Store(ctx, viewKey(view.UserID), view, c.ttl); err != nil {
		log.Warnf("[Billing] view cache write for user %d failed: %v", view.UserID, err)
	}
}

func (c *RedisViewCache) Invalidate(ctx context.Context, userID uint) {
	if err := c.store.Delete(ctx, viewKey(userID)); err != nil {
		log.Warnf("[Billing] view cache invalidation for user %d failed: %v", userID, err)
	}
}

func viewKey(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

type noViewCache struct{}

func (noViewCache) Get(context.Context, uint) (*EntitlementView, bool) { return nil, false }
func (noViewCache) Put(context.Context, *EntitlementView)             {}
func (noViewCache) Invalidate(context.Context, uint)                  {}
