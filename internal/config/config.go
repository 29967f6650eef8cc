// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Email transports accepted by EMAIL_TRANSPORT.
const (
	EmailTransportLog   = "log"
	EmailTransportSMTP  = "smtp"
	EmailTransportKafka = "kafka"
	EmailTransportAsynq = "asynq"
)

// minProductionSecret is the shortest HS256 secret accepted when APP_ENV=production.
const minProductionSecret = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP/WebSocket server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr, when set, starts a gRPC health server on that address.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment ("development" or "production"). Selects the logger and stricter checks.
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseDriver is "postgres" or "sqlite".
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	// DatabaseURL is the DSN (a file path for sqlite). Empty selects in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTSecret is the HS256 signing secret. Required unless both PEM keys are set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "30m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// BusQueueSize is the per-subscriber queue capacity.
	BusQueueSize int `mapstructure:"BUS_QUEUE_SIZE"`
	// MaxConnectionsPerIdentity caps live connections per recipient.
	MaxConnectionsPerIdentity int    `mapstructure:"MAX_CONNECTIONS_PER_IDENTITY"`
	WSWriteTimeout            string `mapstructure:"WS_WRITE_TIMEOUT"`
	WSPingInterval            string `mapstructure:"WS_PING_INTERVAL"`
	// WSPayloadFormat is "json" (envelope) or "text" (message only).
	WSPayloadFormat string `mapstructure:"WS_PAYLOAD_FORMAT"`
	// PolicyFile optionally points at a Rego module replacing the built-in admission policy.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	RateLimitRPS       float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `mapstructure:"RATE_LIMIT_BURST"`
	CORSAllowedOrigins string  `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// EmailTransport is one of log, smtp, kafka, asynq.
	EmailTransport string `mapstructure:"EMAIL_TRANSPORT"`
	// EmailOnNotify sends an email for every notification when true.
	EmailOnNotify bool   `mapstructure:"EMAIL_ON_NOTIFY"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUsername  string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	MailFrom      string `mapstructure:"MAIL_FROM"`
	MailFromName  string `mapstructure:"MAIL_FROM_NAME"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	EmailKafkaTopic string `mapstructure:"EMAIL_KAFKA_TOPIC"`
	// TelemetryKafkaTopic, when set with KAFKA_BROKERS, also publishes lifecycle events to Kafka.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the email worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// WorkerConcurrency bounds parallel asynq email tasks in cmd/worker.
	WorkerConcurrency int `mapstructure:"EMAIL_WORKER_CONCURRENCY"`

	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "social-notify")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("BUS_QUEUE_SIZE", 64)
	v.SetDefault("MAX_CONNECTIONS_PER_IDENTITY", 8)
	v.SetDefault("WS_WRITE_TIMEOUT", "10s")
	v.SetDefault("WS_PING_INTERVAL", "30s")
	v.SetDefault("WS_PAYLOAD_FORMAT", "json")
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("EMAIL_TRANSPORT", EmailTransportLog)
	v.SetDefault("EMAIL_ON_NOTIFY", true)
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "")
	v.SetDefault("MAIL_FROM_NAME", "SocialMediaFastAPI")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EMAIL_KAFKA_TOPIC", "notify-email")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "")
	v.SetDefault("KAFKA_GROUP_ID", "notify-email-worker")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("EMAIL_WORKER_CONCURRENCY", 10)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}

	hasKeyPair := c.JWTPrivateKey != "" && c.JWTPublicKey != ""
	if !hasKeyPair && c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set unless JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are")
	}
	if !hasKeyPair && c.IsProduction() && len(c.JWTSecret) < minProductionSecret {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes when APP_ENV=production", minProductionSecret)
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.BusQueueSize <= 0 {
		return errors.New("config: BUS_QUEUE_SIZE must be positive")
	}
	if c.MaxConnectionsPerIdentity <= 0 {
		return errors.New("config: MAX_CONNECTIONS_PER_IDENTITY must be positive")
	}
	switch strings.ToLower(c.WSPayloadFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: WS_PAYLOAD_FORMAT must be json or text, got %q", c.WSPayloadFormat)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("config: RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}

	switch c.EmailTransport {
	case EmailTransportLog, EmailTransportAsynq:
	case EmailTransportSMTP:
		if c.SMTPHost == "" || c.MailFrom == "" {
			return errors.New("config: SMTP_HOST and MAIL_FROM must be set when EMAIL_TRANSPORT=smtp")
		}
	case EmailTransportKafka:
		if len(c.KafkaBrokersList()) == 0 {
			return errors.New("config: KAFKA_BROKERS must be set when EMAIL_TRANSPORT=kafka")
		}
	default:
		return fmt.Errorf("config: EMAIL_TRANSPORT must be one of log, smtp, kafka, asynq, got %q", c.EmailTransport)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return strings.EqualFold(c.Env, "production") }

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 30*time.Minute)
}

// WriteTimeout parses WSWriteTimeout. Returns 10s if unset or invalid.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.WSWriteTimeout, 10*time.Second)
}

// PingInterval parses WSPingInterval. Returns 30s if unset or invalid.
func (c *Config) PingInterval() time.Duration {
	return parseDuration(c.WSPingInterval, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AllowedOrigins returns the CORS origins. A lone "*" allows every origin.
func (c *Config) AllowedOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
