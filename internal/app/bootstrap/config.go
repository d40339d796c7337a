package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/affiliate-ledger/internal/domain"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	MaxDBConns  int32
	RedisURL    string

	KafkaBrokers               []string
	KafkaConsumerGroup         string
	KafkaTopicPaymentConfirmed string
	KafkaTopicEarningRecorded  string
	KafkaTopicPayoutCreated    string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	ConsumerPollInterval time.Duration

	Currency           string
	CommissionRate     decimal.Decimal
	PayoutThreshold    domain.Money
	PayoutBatchSize    int
	PayoutConcurrency  int
	PayoutLockTTL      time.Duration
	ReconcileBatchSize int

	StripeWebhookSecret string
	StripeTolerance     time.Duration
	AdminToken          string
	AdminJWTSecret      string
	CORSAllowedOrigins  []string
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL                string   `yaml:"postgres_url"`
		RedisURL                   string   `yaml:"redis_url"`
		KafkaBrokers               []string `yaml:"kafka_brokers"`
		KafkaConsumerGroup         string   `yaml:"kafka_consumer_group"`
		KafkaTopicPaymentConfirmed string   `yaml:"kafka_topic_payment_confirmed"`
		KafkaTopicEarningRecorded  string   `yaml:"kafka_topic_earning_recorded"`
		KafkaTopicPayoutCreated    string   `yaml:"kafka_topic_payout_created"`
	} `yaml:"dependencies"`
	Ledger struct {
		Currency          string `yaml:"currency"`
		CommissionRate    string `yaml:"commission_rate"`
		PayoutThreshold   string `yaml:"payout_threshold"`
		PayoutBatchSize   int    `yaml:"payout_batch_size"`
		PayoutConcurrency int    `yaml:"payout_concurrency"`
	} `yaml:"ledger"`
	HTTP struct {
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"http"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                  "affiliate-ledger",
		HTTPPort:                   8080,
		GRPCPort:                   9090,
		MaxDBConns:                 20,
		KafkaConsumerGroup:         "affiliate-ledger",
		KafkaTopicPaymentConfirmed: domain.EventPaymentConfirmed,
		KafkaTopicEarningRecorded:  domain.EventAffiliateEarningRecorded,
		KafkaTopicPayoutCreated:    domain.EventAffiliatePayoutCreated,
		OutboxPollInterval:         2 * time.Second,
		OutboxBatchSize:            100,
		ConsumerPollInterval:       2 * time.Second,
		Currency:                   "USD",
		PayoutBatchSize:            100,
		PayoutConcurrency:          4,
		PayoutLockTTL:              30 * time.Second,
		ReconcileBatchSize:         200,
		StripeTolerance:            5 * time.Minute,
	}
	rate := "0.30"
	threshold := "500.00"

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
		}
		if f.Dependencies.KafkaConsumerGroup != "" {
			cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
		}
		if f.Dependencies.KafkaTopicPaymentConfirmed != "" {
			cfg.KafkaTopicPaymentConfirmed = f.Dependencies.KafkaTopicPaymentConfirmed
		}
		if f.Dependencies.KafkaTopicEarningRecorded != "" {
			cfg.KafkaTopicEarningRecorded = f.Dependencies.KafkaTopicEarningRecorded
		}
		if f.Dependencies.KafkaTopicPayoutCreated != "" {
			cfg.KafkaTopicPayoutCreated = f.Dependencies.KafkaTopicPayoutCreated
		}
		if f.Ledger.Currency != "" {
			cfg.Currency = f.Ledger.Currency
		}
		if f.Ledger.CommissionRate != "" {
			rate = f.Ledger.CommissionRate
		}
		if f.Ledger.PayoutThreshold != "" {
			threshold = f.Ledger.PayoutThreshold
		}
		if f.Ledger.PayoutBatchSize > 0 {
			cfg.PayoutBatchSize = f.Ledger.PayoutBatchSize
		}
		if f.Ledger.PayoutConcurrency > 0 {
			cfg.PayoutConcurrency = f.Ledger.PayoutConcurrency
		}
		if len(f.HTTP.CORSAllowedOrigins) > 0 {
			cfg.CORSAllowedOrigins = trimNonEmpty(f.HTTP.CORSAllowedOrigins)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaTopicPaymentConfirmed = envOrDefault("KAFKA_TOPIC_PAYMENT_CONFIRMED", cfg.KafkaTopicPaymentConfirmed)
	cfg.KafkaTopicEarningRecorded = envOrDefault("KAFKA_TOPIC_EARNING_RECORDED", cfg.KafkaTopicEarningRecorded)
	cfg.KafkaTopicPayoutCreated = envOrDefault("KAFKA_TOPIC_PAYOUT_CREATED", cfg.KafkaTopicPayoutCreated)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.Currency = strings.ToUpper(strings.TrimSpace(envOrDefault("LEDGER_CURRENCY", cfg.Currency)))
	rate = envOrDefault("AFFILIATE_COMMISSION", rate)
	threshold = envOrDefault("PAYOUT_THRESHOLD", threshold)
	cfg.PayoutBatchSize = envInt("PAYOUT_BATCH_SIZE", cfg.PayoutBatchSize)
	cfg.PayoutConcurrency = envInt("PAYOUT_CONCURRENCY", cfg.PayoutConcurrency)
	cfg.PayoutLockTTL = time.Duration(envInt("PAYOUT_LOCK_TTL_SECONDS", int(cfg.PayoutLockTTL.Seconds()))) * time.Second
	cfg.ReconcileBatchSize = envInt("RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize)
	cfg.StripeWebhookSecret = envOrDefault("STRIPE_WEBHOOK_SECRET", cfg.StripeWebhookSecret)
	cfg.StripeTolerance = time.Duration(envInt("STRIPE_WEBHOOK_TOLERANCE_SECONDS", int(cfg.StripeTolerance.Seconds()))) * time.Second
	cfg.AdminToken = envOrDefault("ADMIN_TOKEN", cfg.AdminToken)
	cfg.AdminJWTSecret = envOrDefault("ADMIN_JWT_SECRET", cfg.AdminJWTSecret)
	cfg.CORSAllowedOrigins = envCSV("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)

	cfg.CommissionRate, err = domain.ParseRate(rate)
	if err != nil {
		return Config{}, fmt.Errorf("invalid AFFILIATE_COMMISSION: %w", err)
	}
	cfg.PayoutThreshold, err = domain.ParseMoney(threshold)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PAYOUT_THRESHOLD: %w", err)
	}
	if cfg.PayoutThreshold <= 0 {
		return Config{}, fmt.Errorf("invalid PAYOUT_THRESHOLD: must be greater than zero")
	}
	if cfg.Currency == "" {
		return Config{}, fmt.Errorf("missing LEDGER_CURRENCY")
	}
	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	items := strings.Split(raw, ",")
	return trimNonEmpty(items)
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
