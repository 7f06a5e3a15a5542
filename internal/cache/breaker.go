package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/pkg/circuitbreaker"
	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// BreakerCache guards a CartCache with a circuit breaker. While the breaker is
// open every call fails fast with gobreaker.ErrOpenState, which callers treat
// like any other cache error. A miss is a normal answer and never counts
// towards tripping.
type BreakerCache struct {
	next CartCache
	cb   *gobreaker.CircuitBreaker[*domain.Cart]
}

func NewBreakerCache(next CartCache, cfg circuitbreaker.Config, log *logger.Logger) *BreakerCache {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrCacheMiss)
	}
	if log != nil {
		cfg.OnStateChange = func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
	}
	return &BreakerCache{
		next: next,
		cb:   circuitbreaker.New[*domain.Cart](cfg),
	}
}

func (b *BreakerCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	return b.cb.Execute(func() (*domain.Cart, error) {
		return b.next.Get(ctx, userID)
	})
}

func (b *BreakerCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	_, err := b.cb.Execute(func() (*domain.Cart, error) {
		return nil, b.next.Set(ctx, userID, cart)
	})
	return err
}

func (b *BreakerCache) Delete(ctx context.Context, userID string) error {
	_, err := b.cb.Execute(func() (*domain.Cart, error) {
		return nil, b.next.Delete(ctx, userID)
	})
	return err
}

func (b *BreakerCache) State() gobreaker.State {
	return b.cb.State()
}
