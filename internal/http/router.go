package http

import (
	"net/http"
	"time"

	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func NewRouter(cart *CartHandler, health *HealthHandler, log *logger.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(otelhttp.NewMiddleware(cfg.ServiceName))
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5))
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
	}

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(UserIDMiddleware)

		r.Post("/", cart.CreateCart)
		r.Get("/", cart.GetCart)
		r.Delete("/", cart.ClearCart)
		r.Get("/summary", cart.GetSummary)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", cart.GetItems)
			r.Post("/", cart.AddItem)
			r.Put("/{product_id}", cart.UpdateQuantity)
			r.Delete("/{product_id}", cart.RemoveItem)
			r.Post("/{product_id}/increase", cart.IncreaseQuantity)
			r.Post("/{product_id}/decrease", cart.DecreaseQuantity)
		})
	})

	return r
}
