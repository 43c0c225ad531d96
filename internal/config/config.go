package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Store drivers
const (
	StoreDriverMemory = "memory"
	StoreDriverRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Store     StoreConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Separator SeparatorConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects the snapshot store explicitly. The driver is a config
// decision, not inferred from which env vars happen to be set.
type StoreConfig struct {
	Driver    string
	JobTTLSec int
}

type WebhookConfig struct {
	Secret string
}

type AuthConfig struct {
	JWTSecret string // empty disables client auth (dev)
}

type RateLimitConfig struct {
	JobsPerHour int
}

type SeparatorConfig struct {
	ServiceURL  string
	CallbackURL string
	TimeoutSec  int
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "4000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("store.driver", StoreDriverMemory)
	viper.SetDefault("store.job_ttl_sec", 7*24*3600)
	viper.SetDefault("webhook.secret", "dev-secret-change-me")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("ratelimit.jobs_per_hour", 20)
	viper.SetDefault("separator.service_url", "")
	viper.SetDefault("separator.callback_url", "http://localhost:4000/api/webhooks/separator")
	viper.SetDefault("separator.timeout_sec", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Driver:    viper.GetString("store.driver"),
			JobTTLSec: viper.GetInt("store.job_ttl_sec"),
		},
		Webhook: WebhookConfig{
			Secret: viper.GetString("webhook.secret"),
		},
		Auth: AuthConfig{
			JWTSecret: viper.GetString("auth.jwt_secret"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
		},
		Separator: SeparatorConfig{
			ServiceURL:  viper.GetString("separator.service_url"),
			CallbackURL: viper.GetString("separator.callback_url"),
			TimeoutSec:  viper.GetInt("separator.timeout_sec"),
		},
	}

	if cfg.Store.Driver != StoreDriverMemory && cfg.Store.Driver != StoreDriverRedis {
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	return cfg, nil
}
