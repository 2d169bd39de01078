package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string        `mapstructure:"PORT"`
	Env                     string        `mapstructure:"ENV"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	RedisChannel            string        `mapstructure:"REDIS_CHANNEL"`
	AuthIssuer              string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL             string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey          string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins             []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS            float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	SchedulerPollInterval   time.Duration `mapstructure:"SCHEDULER_POLL_INTERVAL"`
	SchedulerResyncInterval time.Duration `mapstructure:"SCHEDULER_RESYNC_INTERVAL"`
	SchedulerWorkers        int           `mapstructure:"SCHEDULER_WORKERS"`
	StoreRetryAttempts      int           `mapstructure:"STORE_RETRY_ATTEMPTS"`
	EscalationPolicyFile    string        `mapstructure:"ESCALATION_POLICY_FILE"`
	WSSendBuffer            int           `mapstructure:"WS_SEND_BUFFER"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_CHANNEL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"SCHEDULER_POLL_INTERVAL", "SCHEDULER_RESYNC_INTERVAL", "SCHEDULER_WORKERS",
	"STORE_RETRY_ATTEMPTS", "ESCALATION_POLICY_FILE", "WS_SEND_BUFFER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_CHANNEL", "medalert:events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SCHEDULER_POLL_INTERVAL", "5s")
	v.SetDefault("SCHEDULER_RESYNC_INTERVAL", "1m")
	v.SetDefault("SCHEDULER_WORKERS", 8)
	v.SetDefault("STORE_RETRY_ATTEMPTS", 3)
	v.SetDefault("WS_SEND_BUFFER", 64)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development, requests without a token run as the dev admin actor.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// SigningKey decodes AUTH_SIGNING_KEY. An empty value yields a nil key, in
// which case tokens are verified against AUTH_JWKS_URL.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Validate rejects configurations the scheduler or the auth layer cannot run
// with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if c.SchedulerPollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive, got %s", c.SchedulerPollInterval)
	}
	if c.SchedulerPollInterval > time.Minute {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must not exceed 1m, got %s", c.SchedulerPollInterval)
	}
	if c.SchedulerResyncInterval < c.SchedulerPollInterval {
		return fmt.Errorf("SCHEDULER_RESYNC_INTERVAL (%s) must be >= SCHEDULER_POLL_INTERVAL (%s)",
			c.SchedulerResyncInterval, c.SchedulerPollInterval)
	}
	if c.SchedulerWorkers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1, got %d", c.SchedulerWorkers)
	}
	if c.StoreRetryAttempts < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1, got %d", c.StoreRetryAttempts)
	}
	if c.WSSendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1, got %d", c.WSSendBuffer)
	}
	return nil
}
