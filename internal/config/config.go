package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parkshare/internal/domain"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const defaultJWTSecret = "change-me-jwt-secret"

type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:parkshare.db?_pragma=busy_timeout(5000)"`

	JWTSecret string        `envconfig:"JWT_SECRET" default:"change-me-jwt-secret"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`
	// InternalTokenHash is the bcrypt hash of the token collaborators
	// present on /internal routes. Empty disables those routes.
	InternalTokenHash string   `envconfig:"INTERNAL_TOKEN_HASH"`
	CORSOrigins       []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string   `envconfig:"KAFKA_TOPIC" default:"parkshare.lifecycle"`
	RabbitURL      string   `envconfig:"RABBIT_URL"`
	RabbitExchange string   `envconfig:"RABBIT_EXCHANGE" default:"parkshare.notifications"`
	OTLPEndpoint   string   `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30s"`

	StartGrace             time.Duration   `envconfig:"BOOKING_START_GRACE" default:"5m"`
	MaxBookingDuration     time.Duration   `envconfig:"BOOKING_MAX_DURATION" default:"168h"`
	PriceTolerance         decimal.Decimal `envconfig:"PRICE_TOLERANCE" default:"0.01"`
	PendingHoldTTL         time.Duration   `envconfig:"PENDING_HOLD_TTL" default:"15m"`
	ExtensionWindow        time.Duration   `envconfig:"EXTENSION_WINDOW" default:"2h"`
	OfferTTL               time.Duration   `envconfig:"WAITLIST_OFFER_TTL" default:"15m"`
	FreeCancellationNotice time.Duration   `envconfig:"FREE_CANCELLATION_NOTICE" default:"24h"`
	LateCancellationRefund decimal.Decimal `envconfig:"LATE_CANCELLATION_REFUND" default:"0.5"`
	IssueFullRefundGrace   time.Duration   `envconfig:"ISSUE_FULL_REFUND_GRACE" default:"30m"`
}

// Load reads .env files if present, then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// Missing files are fine; real environments set variables directly.
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Policy() domain.Policy {
	return domain.Policy{
		StartGrace:             c.StartGrace,
		MaxBookingDuration:     c.MaxBookingDuration,
		PriceTolerance:         c.PriceTolerance,
		PendingHoldTTL:         c.PendingHoldTTL,
		ExtensionWindow:        c.ExtensionWindow,
		OfferTTL:               c.OfferTTL,
		FreeCancellationNotice: c.FreeCancellationNotice,
		LateCancellationRefund: c.LateCancellationRefund,
		IssueFullRefundGrace:   c.IssueFullRefundGrace,
	}
}

func (c *Config) ProdLike() bool {
	return isProdLike(c.AppEnv)
}

// LogValue keeps secrets out of the startup log.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.AppEnv),
		slog.String("http_addr", c.HTTPAddr),
		slog.Bool("kafka", len(c.KafkaBrokers) > 0),
		slog.Bool("rabbit", c.RabbitURL != ""),
		slog.Bool("tracing", c.OTLPEndpoint != ""),
		slog.Bool("internal_routes", c.InternalTokenHash != ""),
		slog.Duration("reconcile_interval", c.ReconcileInterval),
		slog.Duration("extension_window", c.ExtensionWindow),
		slog.Duration("offer_ttl", c.OfferTTL),
	)
}

func validateConfig(cfg *Config) error {
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.ReconcileInterval <= 0 || cfg.ReconcileInterval > time.Minute {
		return fmt.Errorf("RECONCILE_INTERVAL must be in (0, 1m]")
	}
	for name, d := range map[string]time.Duration{
		"BOOKING_MAX_DURATION": cfg.MaxBookingDuration,
		"PENDING_HOLD_TTL":     cfg.PendingHoldTTL,
		"EXTENSION_WINDOW":     cfg.ExtensionWindow,
		"WAITLIST_OFFER_TTL":   cfg.OfferTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if cfg.StartGrace < 0 || cfg.FreeCancellationNotice < 0 || cfg.IssueFullRefundGrace < 0 {
		return fmt.Errorf("grace and notice periods must not be negative")
	}
	if cfg.PriceTolerance.IsNegative() {
		return fmt.Errorf("PRICE_TOLERANCE must not be negative")
	}
	if cfg.LateCancellationRefund.IsNegative() || cfg.LateCancellationRefund.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("LATE_CANCELLATION_REFUND must be in [0, 1]")
	}
	if len(cfg.KafkaBrokers) > 0 && strings.TrimSpace(cfg.KafkaTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC must be set when KAFKA_BROKERS is")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres") {
			return fmt.Errorf("in prod/release DATABASE_URL must point to postgres")
		}
		for _, o := range cfg.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("in prod/release CORS_ORIGINS must not contain *")
			}
		}
	}
	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}
