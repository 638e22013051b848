package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the integrations service.
// Tags use mapstructure for Viper unmarshalling; keys double as env var names.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// RedisAddr enables the distributed sync lock. Empty means the in-process
	// lock is used, which is only safe for a single instance.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// MasterKeyHex is the AES-256 vault key: exactly 64 hex characters.
	MasterKeyHex string `mapstructure:"INTEGRATIONS_MASTER_KEY"`

	FitbitClientID     string `mapstructure:"FITBIT_CLIENT_ID"`
	FitbitClientSecret string `mapstructure:"FITBIT_CLIENT_SECRET"`

	// CallbackBaseURL is this service's public base for OAuth redirect URIs.
	CallbackBaseURL string `mapstructure:"OAUTH_CALLBACK_BASE_URL"`
	// ResultRedirectURL is the frontend page users land on after the flow.
	ResultRedirectURL string `mapstructure:"OAUTH_RESULT_REDIRECT_URL"`

	// AuthUserHeader carries the authenticated user ID, injected by the gateway.
	AuthUserHeader string `mapstructure:"AUTH_USER_HEADER"`
	// AuthTierHeader carries the gateway-verified subscription tier.
	AuthTierHeader string `mapstructure:"AUTH_TIER_HEADER"`

	FlagCacheTTLSeconds int `mapstructure:"FLAG_CACHE_TTL_SECONDS"`

	RateLimitHourlyCapacity int `mapstructure:"RATE_LIMIT_HOURLY_CAPACITY"`
	RateLimitDailyCapacity  int `mapstructure:"RATE_LIMIT_DAILY_CAPACITY"`

	AutoSyncFailureThreshold int `mapstructure:"AUTO_SYNC_FAILURE_THRESHOLD"`
	SchedulerIntervalSeconds int `mapstructure:"SCHEDULER_INTERVAL_SECONDS"`

	ProviderTimeoutSeconds int `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/nutrifit-integrations/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/nutrifit_integrations_dev")
	v.SetDefault("MONGO_DB_NAME", "nutrifit_integrations_dev")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "nutrifit-integrations")
	v.SetDefault("AUTH_USER_HEADER", "X-User-ID")
	v.SetDefault("AUTH_TIER_HEADER", "X-Subscription-Tier")
	v.SetDefault("FLAG_CACHE_TTL_SECONDS", 5)
	v.SetDefault("RATE_LIMIT_HOURLY_CAPACITY", 150)
	v.SetDefault("RATE_LIMIT_DAILY_CAPACITY", 1000)
	v.SetDefault("AUTO_SYNC_FAILURE_THRESHOLD", 5)
	v.SetDefault("SCHEDULER_INTERVAL_SECONDS", 60)
	v.SetDefault("PROVIDER_TIMEOUT_SECONDS", 15)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot have a usable default.
func (c *ServerConfig) Validate() error {
	if len(c.MasterKeyHex) != 64 {
		return fmt.Errorf("INTEGRATIONS_MASTER_KEY must be 64 hex characters, got %d", len(c.MasterKeyHex))
	}
	if _, err := hex.DecodeString(c.MasterKeyHex); err != nil {
		return fmt.Errorf("INTEGRATIONS_MASTER_KEY is not valid hex: %w", err)
	}
	if c.CallbackBaseURL == "" {
		return fmt.Errorf("OAUTH_CALLBACK_BASE_URL is required")
	}
	if c.ResultRedirectURL == "" {
		return fmt.Errorf("OAUTH_RESULT_REDIRECT_URL is required")
	}
	return nil
}
