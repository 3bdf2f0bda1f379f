package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CREDITGATE_GATEWAY_API_KEY.
const EnvPrefix = "CREDITGATE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Generation GenerationConfig `mapstructure:"generation"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Business   BusinessConfig   `mapstructure:"business"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the gorm driver. When DSN is empty it is assembled
// from the discrete fields (mysql, postgres) or defaults to an in-memory
// database (sqlite).
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Name         string        `mapstructure:"name"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	SlowQuery    time.Duration `mapstructure:"slow_query"`
}

// RedisConfig is optional; an empty host selects the in-process locker.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Settlement string `mapstructure:"settlement"`
}

// GatewayConfig holds the Cryptomus merchant credentials.
type GatewayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	MerchantID  string        `mapstructure:"merchant_id"`
	APIKey      string        `mapstructure:"api_key"`
	CallbackURL string        `mapstructure:"callback_url"`
	Currency    string        `mapstructure:"currency"`
	Lifetime    time.Duration `mapstructure:"lifetime"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	VerifySignature bool   `mapstructure:"verify_signature"`
	PathSecret      string `mapstructure:"path_secret"`
}

type GenerationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	PromptTemplate string        `mapstructure:"prompt_template"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Token       string `mapstructure:"token"`
	PollTimeout int    `mapstructure:"poll_timeout"`
	Debug       bool   `mapstructure:"debug"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type BusinessConfig struct {
	DefaultBalance     int64         `mapstructure:"default_balance"`
	Tiers              []TierConfig  `mapstructure:"tiers"`
	ReservationTimeout time.Duration `mapstructure:"reservation_timeout"`
	MaxRetryCount      int           `mapstructure:"max_retry_count"`
	OutboxInterval     time.Duration `mapstructure:"outbox_interval"`
	ExpiryInterval     time.Duration `mapstructure:"expiry_interval"`
	CompensateInterval time.Duration `mapstructure:"compensate_interval"`
}

// TierConfig is one purchasable credit pack. USD is kept as a decimal string.
type TierConfig struct {
	USD     string `mapstructure:"usd"`
	Credits int64  `mapstructure:"credits"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "creditgate")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.slow_query", 200*time.Millisecond)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.settlement", "creditgate.settlement")

	v.SetDefault("gateway.base_url", "https://api.cryptomus.com")
	v.SetDefault("gateway.merchant_id", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.callback_url", "")
	v.SetDefault("gateway.currency", "USD")
	v.SetDefault("gateway.lifetime", time.Hour)
	v.SetDefault("gateway.timeout", 30*time.Second)

	v.SetDefault("webhook.verify_signature", true)
	v.SetDefault("webhook.path_secret", "")

	v.SetDefault("generation.enabled", true)
	v.SetDefault("generation.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("generation.prompt_template", "Write a script for a video: %s")
	v.SetDefault("generation.timeout", 60*time.Second)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.debug", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)

	v.SetDefault("business.default_balance", 3)
	v.SetDefault("business.tiers", []map[string]interface{}{
		{"usd": "2", "credits": 20},
		{"usd": "4", "credits": 50},
		{"usd": "10", "credits": 130},
	})
	v.SetDefault("business.reservation_timeout", 10*time.Minute)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.expiry_interval", 30*time.Second)
	v.SetDefault("business.compensate_interval", time.Minute)
}

// Load reads .env (if present), then the YAML file at path (optional when
// empty or missing), then CREDITGATE_* environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants and the secrets required by enabled features.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be mysql, postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Business.DefaultBalance < 0 {
		return errors.New("business.default_balance must not be negative")
	}
	if len(c.Business.Tiers) == 0 {
		return errors.New("business.tiers must not be empty")
	}
	for i, t := range c.Business.Tiers {
		d, err := decimal.NewFromString(t.USD)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("business.tiers[%d].usd must be a positive decimal, got %q", i, t.USD)
		}
		if t.Credits <= 0 {
			return fmt.Errorf("business.tiers[%d].credits must be positive", i)
		}
	}
	if c.Gateway.MerchantID == "" || c.Gateway.APIKey == "" {
		return errors.New("gateway.merchant_id and gateway.api_key are required")
	}
	if c.Generation.Enabled && c.Generation.APIKey == "" {
		return errors.New("generation.api_key is required when generation is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("telegram.token is required when telegram is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	return nil
}
