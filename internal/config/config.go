package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	CRDBDSN      string        `env:"CRDB_DSN"`
	MongoURI     string        `env:"MONGO_URI"`
	MongoDB      string        `env:"MONGO_DB" envDefault:"gsb"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RabbitURL    string        `env:"RABBIT_URL"`
	JWTPublicKey string        `env:"JWT_PUBLIC_KEY"`
	OTLPEndpoint string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceRatio   float64       `env:"OTEL_TRACE_SAMPLE_RATIO" envDefault:"1"`
	Environment  string        `env:"APP_ENV" envDefault:"dev"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	HoldTTL      time.Duration `env:"HOLD_TTL" envDefault:"5m"`

	// SeatHoldMinutes is advisory to the seat inventory.
	SeatHoldMinutes int `env:"SEAT_HOLD_MINUTES" envDefault:"30"`
	// InviteCutoff is how long before showtime an invite group expires.
	InviteCutoff       time.Duration `env:"INVITE_CUTOFF" envDefault:"30m"`
	JoinRetries        int           `env:"JOIN_RETRIES" envDefault:"3"`
	PlatformFeePercent float64       `env:"PLATFORM_FEE_PERCENT" envDefault:"10"`
	PlatformWalletID   uuid.UUID     `env:"PLATFORM_WALLET_ID"`

	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatch       int           `env:"SWEEP_BATCH" envDefault:"100"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"4"`

	OutboxInterval time.Duration `env:"OUTBOX_INTERVAL" envDefault:"5s"`
	OutboxBatch    int           `env:"OUTBOX_BATCH" envDefault:"50"`

	PayoutQueue    string        `env:"PAYOUT_QUEUE" envDefault:"payouts.settlement.q"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"1h"`

	// Requests per minute.
	RateLimitUser int `env:"RATE_LIMIT_USER" envDefault:"60"`
	RateLimitIP   int `env:"RATE_LIMIT_IP" envDefault:"300"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > 100 {
		return nil, errors.Newf("PLATFORM_FEE_PERCENT out of range: %v", cfg.PlatformFeePercent)
	}
	if cfg.JoinRetries < 0 {
		cfg.JoinRetries = 0
	}
	return &cfg, nil
}
