// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	StorageDriver      string        `mapstructure:"STORAGE_DRIVER"`
	DBConnectAttempts  int           `mapstructure:"DB_CONNECT_ATTEMPTS"`
	SessionKey         string        `mapstructure:"SESSION_KEY"`
	GoogleClientID     string        `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `mapstructure:"GOOGLE_REDIRECT_URL"`
	BatchMaxOps        int           `mapstructure:"BATCH_MAX_OPS"`
	GrantRetryAttempts int           `mapstructure:"GRANT_RETRY_ATTEMPTS"`
	GrantRetryBackoff  time.Duration `mapstructure:"GRANT_RETRY_BACKOFF"`
	DefaultCurrency    string        `mapstructure:"DEFAULT_CURRENCY"`
	KafkaBrokers       []string      `mapstructure:"-"`
	AlertTopic         string        `mapstructure:"ALERT_TOPIC"`
	WebhookSecret      string        `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	InternalToken      string        `mapstructure:"INTERNAL_API_TOKEN"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	SecureCookies      bool          `mapstructure:"SECURE_COOKIES"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var keys = []string{
	"PORT", "DATABASE_URL", "STORAGE_DRIVER", "DB_CONNECT_ATTEMPTS", "SESSION_KEY",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL",
	"BATCH_MAX_OPS", "GRANT_RETRY_ATTEMPTS", "GRANT_RETRY_BACKOFF", "DEFAULT_CURRENCY",
	"KAFKA_BROKERS", "ALERT_TOPIC", "PAYMENT_WEBHOOK_SECRET", "INTERNAL_API_TOKEN",
	"LOG_LEVEL", "SECURE_COOKIES",
}

// Load reads envFiles (missing files are fine) and then the process
// environment, which wins.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("STORAGE_DRIVER", DriverPostgres)
	v.SetDefault("DB_CONNECT_ATTEMPTS", 5)
	v.SetDefault("BATCH_MAX_OPS", 500)
	v.SetDefault("GRANT_RETRY_ATTEMPTS", 3)
	v.SetDefault("GRANT_RETRY_BACKOFF", "200ms")
	v.SetDefault("DEFAULT_CURRENCY", "XOF")
	v.SetDefault("ALERT_TOPIC", "ledger.alerts")
	v.SetDefault("LOG_LEVEL", "info")
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	for _, b := range strings.Split(v.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.BatchMaxOps < 2 {
		return errors.Errorf("BATCH_MAX_OPS must be at least 2, got %d", c.BatchMaxOps)
	}
	if c.GrantRetryAttempts < 1 {
		return errors.Errorf("GRANT_RETRY_ATTEMPTS must be at least 1, got %d", c.GrantRetryAttempts)
	}
	return nil
}

// OAuthEnabled reports whether Google login is configured.
func (c Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}
