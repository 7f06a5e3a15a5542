package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/pkg/circuitbreaker"
	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyCache struct {
	mu    sync.Mutex
	err   error
	calls int
	carts map[string]*domain.Cart
}

func (f *flakyCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.carts[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c, nil
}

func (f *flakyCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.carts == nil {
		f.carts = map[string]*domain.Cart{}
	}
	f.carts[userID] = cart
	return nil
}

func (f *flakyCache) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	delete(f.carts, userID)
	return nil
}

func newTestBreaker(next CartCache) *BreakerCache {
	cfg := circuitbreaker.DefaultConfig("cart-cache")
	cfg.ConsecutiveFailures = 3
	cfg.Timeout = time.Hour
	return NewBreakerCache(next, cfg, logger.Nop())
}

func TestBreakerCache_PassesThrough(t *testing.T) {
	inner := &flakyCache{}
	b := newTestBreaker(inner)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "u1", domain.NewCart("u1")))
	got, err := b.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, b.Delete(ctx, "u1"))
	_, err = b.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBreakerCache_MissesDoNotTrip(t *testing.T) {
	b := newTestBreaker(&flakyCache{})

	for i := 0; i < 10; i++ {
		_, err := b.Get(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerCache_OpensAndFailsFast(t *testing.T) {
	inner := &flakyCache{err: errors.New("connection refused")}
	b := newTestBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Get(ctx, "u1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	callsBefore := inner.calls
	_, err := b.Get(ctx, "u1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, b.Set(ctx, "u1", domain.NewCart("u1")), gobreaker.ErrOpenState)
	assert.ErrorIs(t, b.Delete(ctx, "u1"), gobreaker.ErrOpenState)
	assert.Equal(t, callsBefore, inner.calls)
}
