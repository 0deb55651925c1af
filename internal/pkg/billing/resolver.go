package billing

import (
	"context"
	"errors"

	"github.com/mindreaderbio/platform/app/models"
)

// Resolver maps one kind of correlation hint to a user. Find returns
// (nil, nil) when its hint is absent.
type Resolver struct {
	Name string
	Find func(ctx context.Context, store Store, hints Hints) (*models.User, error)
}

var (
	ResolveByUserID = Resolver{
		Name: "user_id",
		Find: func(ctx context.Context, store Store, hints Hints) (*models.User, error) {
			if hints.UserID == 0 {
				return nil, nil
			}
			return store.UserByID(ctx, hints.UserID)
		},
	}
	ResolveBySubscriptionID = Resolver{
		Name: "subscription_id",
		Find: func(ctx context.Context, store Store, hints Hints) (*models.User, error) {
			if hints.SubscriptionID == "" {
				return nil, nil
			}
			return store.UserBySubscriptionID(ctx, hints.SubscriptionID)
		},
	}
	ResolveByCustomerID = Resolver{
		Name: "customer_id",
		Find: func(ctx context.Context, store Store, hints Hints) (*models.User, error) {
			if hints.CustomerID == "" {
				return nil, nil
			}
			return store.UserByCustomerID(ctx, hints.CustomerID)
		},
	}
)

// DefaultResolvers is the lookup order: explicit user id, then the stored
// subscription, then the stored customer.
func DefaultResolvers() []Resolver {
	return []Resolver{ResolveByUserID, ResolveBySubscriptionID, ResolveByCustomerID}
}

// resolveUser returns the first match and the name of the resolver that
// found it. No match is (nil, "", nil).
func resolveUser(ctx context.Context, store Store, resolvers []Resolver, hints Hints) (*models.User, string, error) {
	for _, r := range resolvers {
		u, err := r.Find(ctx, store, hints)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		if u != nil {
			return u, r.Name, nil
		}
	}
	return nil, "", nil
}
