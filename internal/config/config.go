package config

import (
	"os"
	"time"
)

type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	NatsURL      string
	KafkaBrokers string

	GatewayTimeout time.Duration

	StripeAPIKey        string
	StripeWebhookSecret string

	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaEnvironment    string
	MpesaShortCode      string
	MpesaPasskey        string
	MpesaCallbackURL    string
	MpesaWebhookSecret  string

	PayPalClientID      string
	PayPalClientSecret  string
	PayPalMode          string
	PayPalWebhookID     string
	PayPalWebhookSecret string

	CoinbaseAPIKey        string
	CoinbaseWebhookSecret string
}

func Load() *Config {
	return &Config{
		Port:         envOr("PORT", "8085"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     envOr("REDIS_URL", "localhost:6379"),
		NatsURL:      envOr("NATS_URL", "nats://localhost:4222"),
		KafkaBrokers: envOr("KAFKA_BROKERS", "localhost:9092"),

		GatewayTimeout: durationOr("GATEWAY_TIMEOUT", 10*time.Second),

		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		MpesaConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		MpesaEnvironment:    envOr("MPESA_ENVIRONMENT", "sandbox"),
		MpesaShortCode:      envOr("MPESA_SHORT_CODE", "174379"),
		MpesaPasskey:        os.Getenv("MPESA_PASSKEY"),
		MpesaCallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		MpesaWebhookSecret:  os.Getenv("MPESA_WEBHOOK_SECRET"),

		PayPalClientID:      os.Getenv("PAYPAL_CLIENT_ID"),
		PayPalClientSecret:  os.Getenv("PAYPAL_CLIENT_SECRET"),
		PayPalMode:          envOr("PAYPAL_MODE", "sandbox"),
		PayPalWebhookID:     os.Getenv("PAYPAL_WEBHOOK_ID"),
		PayPalWebhookSecret: os.Getenv("PAYPAL_WEBHOOK_SECRET"),

		CoinbaseAPIKey:        os.Getenv("COINBASE_API_KEY"),
		CoinbaseWebhookSecret: os.Getenv("COINBASE_WEBHOOK_SECRET"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
