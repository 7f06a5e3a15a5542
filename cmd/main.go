package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "github.com/fjod/storefront-cart/internal/cache"
	"github.com/fjod/storefront-cart/internal/config"
	h "github.com/fjod/storefront-cart/internal/http"
	"github.com/fjod/storefront-cart/internal/poller"
	"github.com/fjod/storefront-cart/internal/repository"
	s "github.com/fjod/storefront-cart/internal/service"
	"github.com/fjod/storefront-cart/pkg/circuitbreaker"
	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/fjod/storefront-cart/pkg/telemetry"
	"github.com/redis/go-redis/v9"
)

const serviceName = "cart-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	shutdownTracing, err := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Stdout:      cfg.OTelStdout,
	})
	if err != nil {
		log.Fatal("failed to set up tracing", "error", err)
	}

	// Set up MongoDB connection
	ctx := context.Background()
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", "error", err)
	}
	repo := repository.NewMongoRepository(mongoDB)
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Fatal("failed to ensure indexes", "error", err)
	}
	log.Info("connected to MongoDB", "db", cfg.MongoDBName)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	redisCache := c.NewRedisCache(redisClient, cfg.CacheTTL)
	// The cache is optional: the service falls back to MongoDB while Redis is down.
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("redis ping failed, continuing without a warm cache", "addr", cfg.RedisAddr, "error", err)
	} else {
		log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
	}
	cache := c.NewBreakerCache(redisCache, circuitbreaker.DefaultConfig("cart-cache"), log)

	service := s.NewCartService(repo, cache, log)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	var cartPoller *poller.Poller
	if cfg.KafkaEnabled() {
		cartPoller = poller.NewPoller(service, log.With("component", "poller"), poller.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
		go cartPoller.Run(runCtx)
		log.Info("checkout consumer started", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	} else {
		log.Info("KAFKA_BROKERS not set, checkout consumer disabled")
	}

	cartHandler := h.NewCartHandler(service, cfg.RequestTimeout, cfg.Currency, log)
	healthHandler := h.NewHealthHandler(map[string]h.Pinger{"mongo": repo}, 2*time.Second)
	router := h.NewRouter(cartHandler, healthHandler, log, h.RouterConfig{
		ServiceName:    serviceName,
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxRequestBody,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cart service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	stopRun()
	if cartPoller != nil {
		cartPoller.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", "error", err)
	}
	if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
		log.Warn("mongo disconnect failed", "error", err)
	}
	log.Info("cart service stopped")
}
