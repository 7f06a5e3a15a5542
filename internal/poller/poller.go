package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"

	readErrorBackoff  = time.Second
	clearRetryBackoff = time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CartClearer empties a user's cart once their checkout completes.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

// Poller consumes checkout completion events and clears the matching carts.
type Poller struct {
	carts        CartClearer
	reader       messageReader
	log          *logger.Logger
	retryBackoff time.Duration
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewPoller(carts CartClearer, log *logger.Logger, cfg Config) *Poller {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, log)
}

func newPoller(carts CartClearer, reader messageReader, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{carts: carts, reader: reader, log: log, retryBackoff: clearRetryBackoff}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("error reading message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", "error", err)
	}
}

// poll handles a single message. Only read errors are returned. Malformed
// messages are logged and committed. A failed clear is retried until it
// succeeds, since committing a later offset would skip this one for good; if
// ctx ends first the message is left uncommitted for redelivery.
func (p *Poller) poll(ctx context.Context) error {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := p.handle(ctx, m)
		if err == nil {
			break
		}
		p.log.Error("failed to clear cart", "offset", m.Offset, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryBackoff):
		}
	}

	if err := p.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("error committing message", "offset", m.Offset, "error", err)
	}
	return nil
}

// handle returns an error only when the cart could not be cleared.
func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	var event checkoutEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.Warn("error parsing message", "offset", m.Offset, "error", err)
		return nil
	}
	if event.UserID == "" {
		p.log.Warn("missing or invalid user_id", "offset", m.Offset, "checkout_id", event.CheckoutID)
		return nil
	}

	if _, err := p.carts.ClearCart(ctx, event.UserID); err != nil {
		return fmt.Errorf("clear cart for user %s, checkout %s: %w", event.UserID, event.CheckoutID, err)
	}
	p.log.Info("cart cleared after checkout", "user_id", event.UserID, "checkout_id", event.CheckoutID)
	return nil
}
