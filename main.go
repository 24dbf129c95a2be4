package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"storefront-svc/assistant"
	"storefront-svc/cache"
	"storefront-svc/catalog"
	"storefront-svc/circuitbreaker"
	"storefront-svc/config"
	"storefront-svc/database"
	"storefront-svc/fulfillment"
	storefrontgrpc "storefront-svc/grpc"
	"storefront-svc/handlers"
	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/notifier"
	"storefront-svc/payments"
)

const serviceName = "storefront"

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	app := &cli.App{
		Name:  serviceName,
		Usage: "MindCraft digital products storefront",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, gRPC health server and event consumer",
				Action: func(c *cli.Context) error { return serve(logger) },
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: func(c *cli.Context) error { return migrate(logger) },
			},
			{
				Name:   "check-env",
				Usage:  "report missing or malformed configuration",
				Action: func(c *cli.Context) error { return checkEnv() },
			},
			{
				Name:  "resend-confirmations",
				Usage: "retry confirmation emails that never went out",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Value: 10 * time.Minute, Usage: "only purchases recorded at least this long ago"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "maximum number of purchases to process"},
				},
				Action: func(c *cli.Context) error {
					return resendConfirmations(c.Context, logger, c.Duration("older-than"), c.Int("limit"))
				},
			},
		},
		Action: func(c *cli.Context) error { return serve(logger) },
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("Command failed", zap.Error(err))
	}
}

func serve(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !payments.ValidBaseURL(cfg.BaseURL) {
		return fmt.Errorf("BASE_URL %q is not an absolute http(s) URL", cfg.BaseURL)
	}
	for _, issue := range cfg.Diagnose() {
		logger.Warn("Configuration issue", zap.String("issue", issue))
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		return err
	}

	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		return err
	}
	if err := database.Migrate(db, logger); err != nil {
		db.Close()
		return err
	}
	purchases := database.NewPurchaseStore(db)

	redisClient, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		db.Close()
		return err
	}
	carts := cache.NewCartRepository(redisClient, cfg.Redis.CartTTL)
	history := cache.NewHistoryCache(redisClient, cfg.Redis.HistoryCacheTTL)

	producer, err := kafka.InitProducer(cfg.Kafka, logger)
	if err != nil {
		redisClient.Close()
		db.Close()
		return err
	}
	publisher := kafka.NewPublisher(producer, cfg.Kafka.Topic, logger)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer(cfg.Kafka, history, logger)
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			logger.Error("Kafka consumer stopped", zap.Error(err))
		}
	}()

	// A nil provider or verifier must stay a nil interface so the handlers
	// can report the missing configuration.
	var provider payments.Provider
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:  cfg.Stripe.SecretKey,
		Breaker: circuitbreaker.NewCircuitBreaker("stripe", 5, 30*time.Second),
		Logger:  logger,
	})
	if err == nil {
		provider = stripeProvider
	} else {
		logger.Warn("Checkout disabled", zap.Error(err))
	}

	var verifier handlers.EventVerifier
	webhookVerifier, err := payments.NewWebhookVerifier(cfg.Stripe.WebhookSecret)
	if err == nil {
		verifier = webhookVerifier
	} else {
		logger.Warn("Webhook receiver disabled", zap.Error(err))
	}

	mailer := notifier.NewResendNotifier(cfg.Email.ResendAPIKey, cfg.Email.From,
		circuitbreaker.NewCircuitBreaker("resend", 5, 30*time.Second), logger)

	dispatcher := fulfillment.NewService(fulfillment.Config{
		Store:         purchases,
		Notifier:      mailer,
		Publisher:     publisher,
		Carts:         carts,
		Catalog:       cat,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName:       serviceName,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		JWTSecret:         cfg.Auth.JWTSecret,
		CartCookieMaxAge:  int(cfg.Redis.CartTTL / time.Second),
		SecureCookies:     strings.HasPrefix(cfg.BaseURL, "https://"),
		Config:            handlers.NewConfigHandler(cfg),
		Catalog:           handlers.NewCatalogHandler(cat),
		Cart:              handlers.NewCartHandler(cat, carts, logger),
		Checkout:          handlers.NewCheckoutHandler(cat, provider, cfg.BaseURL, cfg.Currency, cfg.CheckoutTimeout, logger),
		Webhook:           handlers.NewWebhookHandler(verifier, dispatcher, logger),
		Purchases:         handlers.NewPurchaseHandler(purchases, history, logger),
		Assistant:         handlers.NewAssistantHandler(assistant.New(cfg.AI.GeminiAPIKey, cfg.AI.Model, cat, logger)),
		Logger:            logger,
	})

	// Start server
	restSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("Storefront REST API started", zap.String("addr", cfg.HTTPAddr))

	// Start gRPC health server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}
	grpcServer := storefrontgrpc.NewHealthServer(logger)
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()
	logger.Info("Storefront gRPC health server started", zap.String("addr", cfg.GRPCAddr))

	gracefulShutdown(restSrv, grpcServer, stopConsumer, consumer, publisher, db, redisClient, shutdownTracing, logger)
	return nil
}

// gracefulShutdown handles SIGINT/SIGTERM and shuts down all services gracefully
func gracefulShutdown(
	restSrv *http.Server,
	grpcServer *storefrontgrpc.HealthServer,
	stopConsumer context.CancelFunc,
	consumer *kafka.Consumer,
	publisher *kafka.Publisher,
	db *sqlx.DB,
	redisClient *redis.Client,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Probes see NOT_SERVING while in-flight requests drain.
	grpcServer.Shutdown()

	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	stopConsumer()
	if err := consumer.Close(); err != nil {
		logger.Error("Failed to close Kafka consumer", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Error("Failed to close Kafka producer", zap.Error(err))
	} else {
		logger.Info("Kafka producer closed gracefully")
	}

	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	} else {
		logger.Info("Database connection closed gracefully")
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis cache", zap.Error(err))
	} else {
		logger.Info("Redis cache closed gracefully")
	}

	shutdownTracing()
	logger.Info("Storefront exited gracefully")
}

func migrate(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return database.Migrate(db, logger)
}

func checkEnv() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	issues := cfg.Diagnose()
	if len(issues) == 0 {
		fmt.Println("All environment variables are set correctly")
		return nil
	}
	for _, issue := range issues {
		fmt.Println("-", issue)
	}
	return cli.Exit(fmt.Sprintf("%d configuration issue(s) found", len(issues)), 1)
}

func resendConfirmations(ctx context.Context, logger *zap.Logger, olderThan time.Duration, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cat, err := catalog.Load()
	if err != nil {
		return err
	}
	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := fulfillment.NewService(fulfillment.Config{
		Store: database.NewPurchaseStore(db),
		Notifier: notifier.NewResendNotifier(cfg.Email.ResendAPIKey, cfg.Email.From,
			circuitbreaker.NewCircuitBreaker("resend", 5, 30*time.Second), logger),
		Catalog:       cat,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
	})

	sent, err := svc.ResendPending(ctx, olderThan, limit)
	if err != nil {
		return err
	}
	fmt.Printf("Sent %d pending confirmation(s)\n", sent)
	return nil
}
