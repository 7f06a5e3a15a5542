package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront-cart/internal/domain"
)

// ErrCacheMiss is returned by Get when no cart is cached for the user.
var ErrCacheMiss = errors.New("cache miss")

// CartCache is a read-through copy of carts keyed by user id. The store stays
// the source of truth: entries may be dropped or expire at any time, and
// callers must treat any Get error, ErrCacheMiss or otherwise, as a reason to
// read the store.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	// Set replaces the user's entry with cart.
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	// Delete drops the user's entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, userID string) error
}
