package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Postgres  PostgresConfig  `json:"postgres"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type PostgresConfig struct {
	// DSN is optional: without it tier resolution stays static.
	DSN string `json:"dsn"`
}

type UpstreamConfig struct {
	Target string `json:"target"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type RateLimitConfig struct {
	KeyPrefix string `json:"key_prefix"`

	// StrictMode turns store unavailability into a 503 instead of the
	// default fail-open allow.
	StrictMode bool `json:"strict_mode"`

	// Extra bypass rules on top of the built-in infrastructure paths.
	BypassPaths    []string `json:"bypass_paths"`
	BypassPrefixes []string `json:"bypass_prefixes"`
}

// Load reads the JSON config file and applies environment overrides.
// A missing file is fine: defaults plus environment cover local runs.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Upstream: UpstreamConfig{
			Target: "http://localhost:8000",
		},
		RateLimit: RateLimitConfig{
			KeyPrefix: "rate_limit",
		},
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("UPSTREAM_TARGET"); v != "" {
		c.Upstream.Target = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("RATE_LIMIT_STRICT"); v != "" {
		c.RateLimit.StrictMode = v == "true" || v == "1"
	}
}
