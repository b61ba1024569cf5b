package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/vip4dfw/vip4dfw-backend/internal/handlers"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/server"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
)

const limiterCleanupInterval = time.Minute

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.ReleaseMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)
	logger.Info("database ready")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = services.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("redis connected")
	} else {
		logger.Warn("REDIS_URL not set, running without cache and cross-instance updates")
	}
	cache := services.NewCache(redisClient)

	hub := services.NewHub(logger)
	go hub.Run(ctx)
	go func() {
		if err := cache.SubscribeBookingUpdates(ctx, hub, logger); err != nil {
			logger.Error("booking update subscription stopped", "error", err)
		}
	}()

	storage, err := services.NewStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	push, err := services.NewPushSender(ctx, cfg.FirebaseServiceAccountPath, logger)
	if err != nil {
		logger.Warn("push notifications disabled", "error", err)
		push = nil
	}
	events := services.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer events.Close()

	payments := services.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeCurrency)
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}

	notifier := services.NewNotifier(services.NotifierOptions{
		DB:         db,
		Mailer:     services.NewMailer(cfg, logger),
		Push:       push,
		Events:     events,
		Logger:     logger,
		AdminEmail: cfg.AdminEmail,
		BaseURL:    cfg.BaseURL,
	})
	defer notifier.Wait()

	env := &handlers.Env{
		DB:              db,
		Cache:           cache,
		Hub:             hub,
		Broadcaster:     services.NewBroadcaster(hub, cache, logger),
		Notifier:        notifier,
		Push:            push,
		Payments:        payments,
		Storage:         storage,
		Logger:          logger,
		JWTSecret:       cfg.JWTSecret,
		JWTTTL:          cfg.JWTTTL,
		BaseURL:         cfg.BaseURL,
		DefaultTimezone: cfg.DefaultTimezone,
		SecureCookies:   cfg.ReleaseMode(),
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	opts := server.Options{CORSOrigins: cfg.CORSOrigins, Limiter: limiter}
	if !storage.UsingS3() {
		opts.LocalUploadDir = storage.Dir()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.NewRouter(env, opts),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
