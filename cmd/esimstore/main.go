// Package main запускает HTTP-сервер магазина eSIM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/esim-orders/internal/config"
	"github.com/mmeshcher/esim-orders/internal/events"
	"github.com/mmeshcher/esim-orders/internal/handler"
	"github.com/mmeshcher/esim-orders/internal/metrics"
	"github.com/mmeshcher/esim-orders/internal/middleware"
	"github.com/mmeshcher/esim-orders/internal/notify"
	"github.com/mmeshcher/esim-orders/internal/payment"
	"github.com/mmeshcher/esim-orders/internal/provider"
	"github.com/mmeshcher/esim-orders/internal/repository"
	"github.com/mmeshcher/esim-orders/internal/service"
	"github.com/mmeshcher/esim-orders/internal/tracing"
	"github.com/mmeshcher/esim-orders/internal/tracking"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	vatRate, err := decimal.NewFromString(cfg.VATRate)
	if err != nil {
		sugar.Fatalw("invalid vat rate", "value", cfg.VATRate, "error", err.Error())
	}

	shutdownTracer, err := tracing.InitTracerProvider("esimstore", cfg.JaegerEndpoint)
	if err != nil {
		sugar.Fatalw("tracer initialization error", "error", err.Error())
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			sugar.Warnw("tracer shutdown error", "error", err.Error())
		}
	}()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	m := metrics.New()

	var (
		emailLimiter tracking.Limiter
		ipLimiter    tracking.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		emailLimiter = tracking.NewRedisLimiter(rdb, cfg.TrackRateLimit, cfg.TrackRateWindow)
		ipLimiter = tracking.NewRedisLimiter(rdb, cfg.TrackRateLimit*4, cfg.TrackRateWindow)
		sugar.Infow("using redis rate limiter", "addr", cfg.RedisAddr)
	} else {
		emailLimiter = tracking.NewMemoryLimiter(cfg.TrackRateLimit, cfg.TrackRateWindow)
		ipLimiter = tracking.NewMemoryLimiter(cfg.TrackRateLimit*4, cfg.TrackRateWindow)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		sugar.Infow("publishing status events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var mailer notify.Mailer
	if cfg.SMTP.Enabled() {
		mailer = notify.NewSMTPMailer(cfg.SMTP)
	} else {
		sugar.Warn("smtp is not configured, tracking links will be logged")
		mailer = notify.NewLogMailer(logger)
	}

	var issuer *tracking.Issuer
	if cfg.TrackingSecret != "" {
		issuer, err = tracking.NewIssuer(cfg.TrackingSecret, cfg.TrackingLinkTTL)
		if err != nil {
			sugar.Fatalw("tracking issuer error", "error", err.Error())
		}
	} else {
		sugar.Warn("tracking secret is not set, using a random key: links stop working after restart")
		issuer = tracking.NewEphemeralIssuer(cfg.TrackingLinkTTL)
	}

	opts := service.Options{
		Issuer:            issuer,
		Limiter:           emailLimiter,
		Mailer:            mailer,
		Publisher:         publisher,
		Metrics:           m,
		Logger:            logger,
		VATRate:           vatRate,
		PublicBaseURL:     cfg.PublicBaseURL,
		ProvisionInterval: cfg.ProvisionInterval,
		MaxAttempts:       cfg.ProvisionMaxAttempts,
	}
	if cfg.ProviderAddress != "" {
		opts.Provider = provider.NewClient(cfg.ProviderAddress, cfg.ProviderAPIKey)
	} else {
		sugar.Warn("provider address is not set, provisioning worker disabled")
	}
	if cfg.PaymentAddress != "" {
		opts.Gateway = payment.NewGateway(cfg.PaymentAddress)
	}

	svc := service.NewService(repo, opts)
	defer svc.Close()

	signature := middleware.NewSignatureMiddleware(cfg.WebhookSecret)
	h := handler.NewHandler(svc, logger, signature, m, ipLimiter)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновый выпуск eSIM для оплаченных заказов
	g.Go(func() error {
		svc.StartProvisioning(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting esim store server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при сигнале или ошибке в другой горутине
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
