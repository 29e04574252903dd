package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Store backends
const (
	StoreBackendPostgres    = "postgres"
	StoreBackendWooCommerce = "woocommerce"
)

// Mail providers
const (
	MailProviderSMTP     = "smtp"
	MailProviderSendGrid = "sendgrid"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	App         AppConfig
	Commerce    CommerceConfig
	Mail        MailConfig
	Storefront  StorefrontConfig
	Secrets     SecretsConfig
	Recovery    RecoveryConfig
	RedisURL    string
	NATSURL     string
	CORSOrigins []string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL      string // takes precedence over the individual fields
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment  string
	LogLevel     string
	StoreBackend string
}

// CommerceConfig holds the WooCommerce REST credentials
type CommerceConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	MaxRetries     int
}

// MailConfig selects and configures the mail transport
type MailConfig struct {
	Provider       string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// StorefrontConfig holds the details rendered into recovery emails
type StorefrontConfig struct {
	URL             string
	StoreName       string
	SupportWhatsApp string
	Currency        string
}

// SecretsConfig holds the shared secrets guarding non-public endpoints
type SecretsConfig struct {
	CronSecret          string
	AdminSecret         string
	StripeWebhookSecret string
}

// RecoveryConfig holds the pipeline timing windows and policies
type RecoveryConfig struct {
	GracePeriod        time.Duration
	SweepLookback      time.Duration
	RecoveryLookback   time.Duration
	StatsWindow        time.Duration
	SweepBudget        time.Duration
	SweepWorkerEnabled bool
	SweepInterval      time.Duration
	RearmOnUpdate      bool
	StatsLocation      *time.Location
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	location, err := time.LoadLocation(getEnv("STATS_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_TIMEZONE: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			URL:     os.Getenv("DATABASE_URL"),
			Host:    getEnv("DB_HOST", "localhost"),
			Port:    getEnvAsInt("DB_PORT", 5432),
			User:    getEnv("DB_USER", "postgres"),
			DBName:  getEnv("DB_NAME", "cart_recovery_db"),
			SSLMode: getEnv("DB_SSLMODE", "disable"),
		},
		App: AppConfig{
			Environment:  getEnv("APP_ENV", "development"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		},
		Commerce: CommerceConfig{
			BaseURL:        getEnv("WOOCOMMERCE_URL", ""),
			ConsumerKey:    getEnv("WOOCOMMERCE_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("WOOCOMMERCE_CONSUMER_SECRET", ""),
			Timeout:        getEnvAsDuration("WOOCOMMERCE_TIMEOUT", 15*time.Second),
			MaxRetries:     getEnvAsInt("WOOCOMMERCE_MAX_RETRIES", 3),
		},
		Mail: MailConfig{
			Provider:       strings.ToLower(getEnv("MAIL_PROVIDER", MailProviderSMTP)),
			SMTPHost:       getEnv("SMTP_HOST", "localhost"),
			SMTPPort:       getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:       getEnv("SMTP_USER", ""),
			SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromAddress:    getEnv("MAIL_FROM", "no-reply@localhost"),
			FromName:       getEnv("MAIL_FROM_NAME", getEnv("STORE_NAME", "Store")),
		},
		Storefront: StorefrontConfig{
			URL:             getEnv("STOREFRONT_URL", "http://localhost:3000"),
			StoreName:       getEnv("STORE_NAME", "Store"),
			SupportWhatsApp: getEnv("SUPPORT_WHATSAPP", ""),
			Currency:        getEnv("STORE_CURRENCY", "EUR"),
		},
		Secrets: SecretsConfig{
			CronSecret:          getEnv("CRON_SECRET", ""),
			AdminSecret:         getEnv("ADMIN_SECRET", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Recovery: RecoveryConfig{
			GracePeriod:        getEnvAsDuration("GRACE_PERIOD", time.Hour),
			SweepLookback:      getEnvAsDuration("SWEEP_LOOKBACK", 48*time.Hour),
			RecoveryLookback:   getEnvAsDuration("RECOVERY_LOOKBACK", 30*24*time.Hour),
			StatsWindow:        getEnvAsDuration("STATS_WINDOW", 30*24*time.Hour),
			SweepBudget:        getEnvAsDuration("SWEEP_BUDGET", 5*time.Minute),
			SweepWorkerEnabled: getEnvAsBool("SWEEP_WORKER_ENABLED", false),
			SweepInterval:      getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
			RearmOnUpdate:      getEnvAsBool("REARM_RECOVERY_EMAIL_ON_UPDATE", true),
			StatsLocation:      location,
		},
		RedisURL:    getEnv("REDIS_URL", ""),
		NATSURL:     getEnv("NATS_URL", ""),
		CORSOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if config.App.StoreBackend == StoreBackendPostgres && config.Database.URL == "" {
		config.Database.Password = getPasswordFromGCPOrEnv()
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.App.StoreBackend {
	case StoreBackendPostgres, StoreBackendWooCommerce:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.App.StoreBackend)
	}

	// The catalog is always read from WooCommerce
	if c.Commerce.BaseURL == "" {
		return fmt.Errorf("WOOCOMMERCE_URL is required")
	}

	switch c.Mail.Provider {
	case MailProviderSMTP:
	case MailProviderSendGrid:
		if c.Mail.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when MAIL_PROVIDER=%s", MailProviderSendGrid)
		}
	default:
		return fmt.Errorf("unsupported MAIL_PROVIDER %q", c.Mail.Provider)
	}

	if c.Recovery.GracePeriod <= 0 {
		return fmt.Errorf("GRACE_PERIOD must be positive")
	}
	if c.Recovery.SweepLookback <= c.Recovery.GracePeriod {
		return fmt.Errorf("SWEEP_LOOKBACK must be longer than GRACE_PERIOD")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// getPasswordFromGCPOrEnv fetches the database password from GCP Secret Manager
// or falls back to environment variable
func getPasswordFromGCPOrEnv() string {
	if os.Getenv("USE_GCP_SECRET_MANAGER") != "true" {
		return getEnv("DB_PASSWORD", "password")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secretFetcher, err := secrets.NewEnvSecretFetcher(ctx)
	if err != nil {
		log.Printf("Warning: Failed to initialize GCP Secret Manager: %v (using env var)", err)
		return getEnv("DB_PASSWORD", "password")
	}
	defer secretFetcher.Close()

	password := secrets.LoadDatabasePassword(ctx, secretFetcher)
	if password == "" || password == "password" {
		log.Printf("Warning: Got empty/default password from GCP Secret Manager, using env var")
		return getEnv("DB_PASSWORD", "password")
	}

	log.Printf("✓ Database password loaded from GCP Secret Manager")
	return password
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
