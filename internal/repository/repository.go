package repository

import (
	"context"
	"errors"

	"github.com/fjod/storefront-cart/internal/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCartExists   = errors.New("cart already exists")
)

// CartRepository stores exactly one cart per user.
type CartRepository interface {
	// FindByUser never creates a cart.
	FindByUser(ctx context.Context, userID string) (*domain.Cart, error)

	// GetOrCreate returns the user's cart, creating an empty one atomically if
	// none exists.
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)

	// Create inserts an empty cart and fails with ErrCartExists if the user
	// already has one.
	Create(ctx context.Context, userID string) (*domain.Cart, error)

	// Save recomputes the cart totals and replaces the stored document.
	Save(ctx context.Context, cart *domain.Cart) error
}
