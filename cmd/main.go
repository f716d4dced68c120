package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/api"
	"github.com/quisin/payments-core/internal/config"
	"github.com/quisin/payments-core/internal/events"
	"github.com/quisin/payments-core/internal/gateway"
	"github.com/quisin/payments-core/internal/repository"
	"github.com/quisin/payments-core/internal/service"
	"github.com/quisin/payments-core/internal/telemetry"
	"github.com/quisin/payments-core/internal/webhooks"
)

func main() {
	// Load .env for local runs; env vars win in deployment.
	_ = godotenv.Load()
	cfg := config.Load()

	if err := telemetry.Init("payments-core"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payments Core")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	paymentRepo := repository.NewPaymentRepository(db)
	if err := paymentRepo.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	splitRepo := repository.NewPaymentSplitRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	// Kafka lifecycle event publisher
	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	// Gateway adapters
	gateways := gateway.NewRegistry()
	gateways.Register(gateway.NewCashGateway())
	gateways.Register(gateway.NewStripeGateway(gateway.StripeConfig{
		APIKey:  cfg.StripeAPIKey,
		Timeout: cfg.GatewayTimeout,
	}))
	gateways.Register(gateway.NewMpesaGateway(gateway.MpesaConfig{
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		Environment:    cfg.MpesaEnvironment,
		ShortCode:      cfg.MpesaShortCode,
		Passkey:        cfg.MpesaPasskey,
		CallbackURL:    cfg.MpesaCallbackURL,
		Timeout:        cfg.GatewayTimeout,
	}, redisClient))
	gateways.Register(gateway.NewPayPalGateway(gateway.PayPalConfig{
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		Mode:         cfg.PayPalMode,
		Timeout:      cfg.GatewayTimeout,
	}))
	gateways.Register(gateway.NewCoinbaseGateway(gateway.CoinbaseConfig{
		APIKey:  cfg.CoinbaseAPIKey,
		Timeout: cfg.GatewayTimeout,
	}))

	// Fraud assessment and transaction monitoring
	assessor := service.NewFraudAssessor(paymentRepo)
	monitor := service.NewMonitor(assessor, nc)
	monitor.Start(context.Background())
	defer monitor.Stop()

	ledger := service.NewLedger(paymentRepo, splitRepo, gateways, publisher, monitor, redisClient)

	reconciler := webhooks.NewReconciler(ledger, webhooks.NewRedisDeduper(redisClient), webhooks.Config{
		MpesaWebhookSecret:    cfg.MpesaWebhookSecret,
		StripeWebhookSecret:   cfg.StripeWebhookSecret,
		PayPalWebhookID:       cfg.PayPalWebhookID,
		PayPalWebhookSecret:   cfg.PayPalWebhookSecret,
		CoinbaseWebhookSecret: cfg.CoinbaseWebhookSecret,
	})

	r := api.NewRouter(ledger, monitor, reconciler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		telemetry.Logger.Info("Payments Core starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
