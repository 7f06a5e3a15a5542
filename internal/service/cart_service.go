package service

import (
	"context"
	"errors"
	"hash/maphash"
	"sync/atomic"
	"time"

	"github.com/fjod/storefront-cart/internal/cache"
	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/repository"
	"github.com/fjod/storefront-cart/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const (
	cacheOpTimeout = time.Second
	writeStripes   = 256
)

type CartService struct {
	repo  repository.CartRepository
	cache cache.CartCache
	log   *logger.Logger
	sfg   singleflight.Group // collapses concurrent cache misses per user

	// writes counts saves per user stripe. A background cache fill is dropped
	// when a save landed on the stripe after the fill's store read began.
	writes [writeStripes]atomic.Uint64
	seed   maphash.Seed
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, log *logger.Logger) *CartService {
	if log == nil {
		log = logger.Nop()
	}
	return &CartService{
		repo:  repo,
		cache: cache,
		log:   log,
		seed:  maphash.MakeSeed(),
	}
}

// CreateCart creates an empty cart and fails with repository.ErrCartExists if
// the user already has one.
func (s *CartService) CreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrEmptyUserID
	}
	cart, err := s.repo.Create(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrCartExists) {
			s.log.WithContext(ctx).Error("repo create cart error", "user_id", userID, "error", err)
		}
		return nil, err
	}
	return cart, nil
}

// GetCart serves from the cache when possible. Carts that exist only in the
// store are written back to the cache in the background. A user without a cart
// gets repository.ErrCartNotFound; reads never create.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrEmptyUserID
	}

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithContext(ctx).Warn("cache get error", "user_id", userID, "error", err)
		}

		gen := s.writeCounter(userID).Load()
		cart, err = s.repo.FindByUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		go s.fillCache(userID, cart, gen)

		return cart, nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrCartNotFound) {
			s.log.WithContext(ctx).Error("repo get cart error", "user_id", userID, "error", err)
		}
		return nil, err
	}

	return v.(*domain.Cart), nil
}

func (s *CartService) GetItems(ctx context.Context, userID string) ([]domain.CartLine, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return cart.GetItems(), nil
}

func (s *CartService) GetSummary(ctx context.Context, userID string) (domain.Summary, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	return cart.Summary(), nil
}

func (s *CartService) AddProduct(ctx context.Context, userID string, p domain.ProductSnapshot) (*domain.Cart, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, "add product", func(c *domain.Cart) {
		c.AddProduct(p)
	})
}

func (s *CartService) RemoveProduct(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	if productID == "" {
		return nil, domain.ErrEmptyProductID
	}
	return s.mutate(ctx, userID, "remove product", func(c *domain.Cart) {
		c.RemoveProduct(productID)
	})
}

// UpdateQuantity sets a line's quantity. Unlike the other mutations it does not
// create a missing cart: a user without one gets repository.ErrCartNotFound.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrEmptyUserID
	}
	if productID == "" {
		return nil, domain.ErrEmptyProductID
	}
	if quantity > domain.MaxLineQuantity {
		return nil, domain.ErrQuantityTooLarge
	}

	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrCartNotFound) {
			s.log.WithContext(ctx).Error("repo get cart error", "user_id", userID, "error", err)
		}
		return nil, err
	}

	if err := cart.UpdateQuantity(productID, quantity); err != nil {
		return nil, err
	}
	return s.save(ctx, cart, "update quantity")
}

func (s *CartService) IncreaseQuantity(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	if productID == "" {
		return nil, domain.ErrEmptyProductID
	}
	return s.mutate(ctx, userID, "increase quantity", func(c *domain.Cart) {
		c.IncreaseQuantity(productID)
	})
}

func (s *CartService) DecreaseQuantity(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	if productID == "" {
		return nil, domain.ErrEmptyProductID
	}
	return s.mutate(ctx, userID, "decrease quantity", func(c *domain.Cart) {
		c.DecreaseQuantity(productID)
	})
}

// ClearCart empties the cart. The document itself is kept.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, "clear cart", func(c *domain.Cart) {
		c.Clear()
	})
}

// mutate loads the user's cart from the store, creating it on first use,
// applies fn and saves the result. The cache is never used as the source.
func (s *CartService) mutate(ctx context.Context, userID, op string, fn func(*domain.Cart)) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrEmptyUserID
	}

	cart, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		s.log.WithContext(ctx).Error("repo get or create error", "op", op, "user_id", userID, "error", err)
		return nil, err
	}

	fn(cart)
	return s.save(ctx, cart, op)
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart, op string) (*domain.Cart, error) {
	if err := s.repo.Save(ctx, cart); err != nil {
		s.log.WithContext(ctx).Error("repo save error", "op", op, "user_id", cart.UserID, "error", err)
		return nil, err
	}

	s.writeCounter(cart.UserID).Add(1)
	s.refreshCache(cart)
	s.log.WithContext(ctx).Debug("cart updated", "op", op, "user_id", cart.UserID, "total_items", cart.TotalItems)
	return cart, nil
}

// fillCache writes a store read back to the cache unless a save for the same
// stripe happened since gen was taken.
func (s *CartService) fillCache(userID string, cart *domain.Cart, gen uint64) {
	if s.writeCounter(userID).Load() != gen {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, userID, cart); err != nil {
		s.log.Warn("cache set error", "user_id", userID, "error", err)
	}
}

// refreshCache replaces the cached cart with the one just saved. If that
// fails the entry is dropped so the next read goes to the store.
func (s *CartService) refreshCache(cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	err := s.cache.Set(ctx, cart.UserID, cart)
	if err == nil {
		return
	}
	s.log.Warn("cache set after save error", "user_id", cart.UserID, "error", err)
	if err := s.cache.Delete(ctx, cart.UserID); err != nil {
		s.log.Warn("cache invalidate error", "user_id", cart.UserID, "error", err)
	}
}

func (s *CartService) writeCounter(userID string) *atomic.Uint64 {
	return &s.writes[maphash.String(s.seed, userID)%writeStripes]
}
