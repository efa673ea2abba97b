package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	TelegramToken string  `env:"TELEGRAM_BOT_TOKEN,notEmpty"`
	AdminUserIDs  []int64 `env:"ADMIN_USER_IDS" envSeparator:","`
	AdminChatID   int64   `env:"ADMIN_CHAT_ID"`

	SupportContact string `env:"SUPPORT_CONTACT" envDefault:"@support"`

	// Bot mode configuration
	WebhookMode bool   `env:"WEBHOOK_MODE"` // If true, use webhook mode; if false, use polling mode
	WebhookURL  string `env:"WEBHOOK_URL"`  // URL for webhook (required if WebhookMode is true)
	Port        int    `env:"PORT" envDefault:"8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Payment gateway
	ExnodeBaseURL       string `env:"EXNODE_BASE_URL" envDefault:"https://my.exnode.io"`
	ExnodePublicKey     string `env:"EXNODE_PUBLIC_KEY,notEmpty"`
	ExnodePrivateKey    string `env:"EXNODE_PRIVATE_KEY,notEmpty"`
	ExnodeCallbackURL   string `env:"EXNODE_CALLBACK_URL"`
	MerchantUUID        string `env:"MERCHANT_UUID"`
	WebhookSignatureChk bool   `env:"EXNODE_WEBHOOK_SECRET_CHECK"`

	DeliverablesDir string `env:"DELIVERABLES_DIR" envDefault:"./deliverables"`

	// Transaction storage
	StoreBackend   string        `env:"STORE_BACKEND" envDefault:"memory"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB"`
	TransactionTTL time.Duration `env:"TRANSACTION_TTL"`

	// ClickHouse audit log
	AuditClickHouse    bool   `env:"AUDIT_CLICKHOUSE"`
	ClickHouseHost     string `env:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseUseTLS   bool   `env:"CLICKHOUSE_USE_TLS"`

	// Relay user session
	RelayEnabled     bool   `env:"RELAY_ENABLED"`
	TelegramAPIID    int    `env:"TELEGRAM_API_ID"`
	TelegramAPIHash  string `env:"TELEGRAM_API_HASH"`
	TelegramPhone    string `env:"TELEGRAM_PHONE"`
	RelaySessionFile string `env:"RELAY_SESSION_FILE" envDefault:"session.json"`
	RelayPeer        string `env:"RELAY_PEER"`
	RelayCommand     string `env:"RELAY_COMMAND" envDefault:"/lookup"`
	FreeLookups      int    `env:"FREE_LOOKUPS" envDefault:"1"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	var errs []error

	if c.WebhookMode && c.WebhookURL == "" {
		errs = append(errs, errors.New("WEBHOOK_URL is required when WEBHOOK_MODE is true"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT: %d", c.Port))
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when STORE_BACKEND is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q (memory or redis)", c.StoreBackend))
	}
	if c.TransactionTTL < 0 {
		errs = append(errs, errors.New("TRANSACTION_TTL must not be negative"))
	}

	if c.AuditClickHouse && c.ClickHouseHost == "" {
		errs = append(errs, errors.New("CLICKHOUSE_HOST is required when AUDIT_CLICKHOUSE is true"))
	}

	if c.RelayEnabled {
		if c.TelegramAPIID == 0 || c.TelegramAPIHash == "" {
			errs = append(errs, errors.New("TELEGRAM_API_ID and TELEGRAM_API_HASH are required when RELAY_ENABLED is true"))
		}
		if c.RelayPeer == "" {
			errs = append(errs, errors.New("RELAY_PEER is required when RELAY_ENABLED is true"))
		}
	}
	if c.FreeLookups < 0 {
		errs = append(errs, errors.New("FREE_LOOKUPS must not be negative"))
	}

	return errors.Join(errs...)
}

// IsAdmin reports whether userID may use operator commands
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
