package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Stripe    StripeConfig    `yaml:"stripe"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	JWT       JWTConfig       `yaml:"jwt"`
	Rental    RentalConfig    `yaml:"rental"`
	Payment   PaymentConfig   `yaml:"payment"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP and gRPC health server settings
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	GRPCPort        int    `yaml:"grpc_port"`
	BaseURL         string `yaml:"base_url"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // "postgres" or "memory"
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	SSLMode       string `yaml:"ssl_mode"`
	LockTimeoutMs int    `yaml:"lock_timeout_ms"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// RedisConfig is optional; an empty address disables webhook dedup.
type RedisConfig struct {
	Addr                   string `yaml:"addr"`
	Password               string `yaml:"password"`
	DB                     int    `yaml:"db"`
	WebhookDedupTTLMinutes int    `yaml:"webhook_dedup_ttl_minutes"`
}

// KafkaConfig is optional; without brokers notifications are only logged.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StripeConfig without a secret key selects the in-process sandbox gateway.
type StripeConfig struct {
	SecretKey         string `yaml:"secret_key"`
	WebhookSecret     string `yaml:"webhook_secret"`
	SuccessURL        string `yaml:"success_url"`
	CancelURL         string `yaml:"cancel_url"`
	Currency          string `yaml:"currency"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
}

type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

type RentalConfig struct {
	MinDays int `yaml:"min_days"`
	MaxDays int `yaml:"max_days"`
}

type PaymentConfig struct {
	// Pending sessions younger than this are not checked against the gateway.
	ExpiryGraceMinutes int `yaml:"expiry_grace_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ExpirePaymentSessions string `yaml:"expire_payment_sessions"`
	NotifyOverdueRentals  string `yaml:"notify_overdue_rentals"`
	// BatchSize caps the rows a single job run processes.
	BatchSize int `yaml:"batch_size"`
}

// Load reads configuration from a YAML file. A .env file next to the
// working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Server
	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")
	setInt(&c.Server.GRPCPort, "GRPC_PORT")
	setString(&c.Server.BaseURL, "SERVER_BASE_URL")

	// Database
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")
	setInt(&c.Database.LockTimeoutMs, "DB_LOCK_TIMEOUT_MS")

	// Redis
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	// Kafka
	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		c.Kafka.Brokers = strings.Split(val, ",")
	}
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")

	// Stripe
	setString(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")

	// SendGrid
	setString(&c.SendGrid.APIKey, "SENDGRID_API_KEY")

	// JWT
	setString(&c.JWT.Secret, "JWT_SECRET")

	// Log
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		fmt.Sscanf(val, "%d", dst)
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	c.applyDefaults()

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	// Database validation
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	// Kafka validation
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}

	// Stripe validation
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required with a secret key")
	}
	if c.Stripe.SessionTTLMinutes != 0 && (c.Stripe.SessionTTLMinutes < 30 || c.Stripe.SessionTTLMinutes > 24*60) {
		return fmt.Errorf("stripe session TTL must be between 30 and 1440 minutes: %d", c.Stripe.SessionTTLMinutes)
	}

	// SendGrid validation
	if c.SendGrid.APIKey != "" && c.SendGrid.FromEmail == "" {
		return fmt.Errorf("sendgrid from email is required with an API key")
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	// Rental validation
	if c.Rental.MinDays < 1 || c.Rental.MaxDays < c.Rental.MinDays {
		return fmt.Errorf("invalid rental period: min %d, max %d days", c.Rental.MinDays, c.Rental.MaxDays)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.LockTimeoutMs == 0 {
		c.Database.LockTimeoutMs = 5000
	}
	if c.Redis.WebhookDedupTTLMinutes == 0 {
		c.Redis.WebhookDedupTTLMinutes = 24 * 60
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}
	if c.Stripe.SuccessURL == "" {
		c.Stripe.SuccessURL = c.Server.BaseURL + "/api/v1/payments/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if c.Stripe.CancelURL == "" {
		c.Stripe.CancelURL = c.Server.BaseURL + "/api/v1/payments/cancel"
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}
	if c.Rental.MinDays == 0 {
		c.Rental.MinDays = 2
	}
	if c.Rental.MaxDays == 0 {
		c.Rental.MaxDays = 30
	}
	if c.Payment.ExpiryGraceMinutes == 0 {
		c.Payment.ExpiryGraceMinutes = 30
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Scheduler.ExpirePaymentSessions == "" {
		c.Scheduler.ExpirePaymentSessions = "0 */10 * * * *" // every 10 minutes
	}
	if c.Scheduler.NotifyOverdueRentals == "" {
		c.Scheduler.NotifyOverdueRentals = "0 0 9 * * *" // 9 AM UTC
	}
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetGRPCAddress returns the health server address, or "" when disabled
func (c *Config) GetGRPCAddress() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Database.LockTimeoutMs) * time.Millisecond
}

func (c *Config) WebhookDedupTTL() time.Duration {
	return time.Duration(c.Redis.WebhookDedupTTLMinutes) * time.Minute
}

func (c *Config) StripeSessionTTL() time.Duration {
	return time.Duration(c.Stripe.SessionTTLMinutes) * time.Minute
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpiry) * time.Minute
}

func (c *Config) PaymentExpiryGrace() time.Duration {
	return time.Duration(c.Payment.ExpiryGraceMinutes) * time.Minute
}
