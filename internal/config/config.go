package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	JWTSecret      string

	Database Database
	Gateway  Gateway

	PendingTimeout      time.Duration
	ExpirySweepInterval time.Duration

	RedisAddr     string
	RedisPassword string
	DedupeTTL     time.Duration
}

type Database struct {
	URL      string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	Schema   string
}

// DSN returns URL when set, otherwise builds one from the parts.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.Username, d.Password, d.Host, d.Port, d.Name)
	if d.Schema != "" {
		dsn += "&search_path=" + d.Schema
	}
	return dsn
}

type Gateway struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	CallbackURL string
	Timeout     time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", "")
	v.SetDefault("jwt_secret", "")

	v.SetDefault("database_url", "")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_username", "postgres")
	v.SetDefault("db_password", "postgres")
	v.SetDefault("db_database", "checkout")
	v.SetDefault("db_schema", "public")

	v.SetDefault("gateway_base_url", "")
	v.SetDefault("gateway_client_id", "")
	v.SetDefault("gateway_api_key", "")
	v.SetDefault("gateway_checksum_key", "")
	v.SetDefault("gateway_return_url", "")
	v.SetDefault("gateway_cancel_url", "")
	v.SetDefault("gateway_callback_url", "")
	v.SetDefault("gateway_timeout", "10s")

	v.SetDefault("payment_pending_timeout", "30m")
	v.SetDefault("expiry_sweep_interval", "0s")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("callback_dedupe_ttl", "24h")
}

// Load reads .env (if present), then the optional YAML file at path, then the
// process environment. Environment variables win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn("no .env file found, using process environment")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString("port"),
		AllowedOrigins: splitAndTrim(v.GetString("allowed_origins")),
		LogLevel:       v.GetString("log_level"),
		JWTSecret:      v.GetString("jwt_secret"),
		Database: Database{
			URL:      v.GetString("database_url"),
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			Username: v.GetString("db_username"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_database"),
			Schema:   v.GetString("db_schema"),
		},
		Gateway: Gateway{
			BaseURL:     strings.TrimRight(v.GetString("gateway_base_url"), "/"),
			ClientID:    v.GetString("gateway_client_id"),
			APIKey:      v.GetString("gateway_api_key"),
			ChecksumKey: v.GetString("gateway_checksum_key"),
			ReturnURL:   v.GetString("gateway_return_url"),
			CancelURL:   v.GetString("gateway_cancel_url"),
			CallbackURL: v.GetString("gateway_callback_url"),
			Timeout:     v.GetDuration("gateway_timeout"),
		},
		PendingTimeout:      v.GetDuration("payment_pending_timeout"),
		ExpirySweepInterval: v.GetDuration("expiry_sweep_interval"),
		RedisAddr:           v.GetString("redis_addr"),
		RedisPassword:       v.GetString("redis_password"),
		DedupeTTL:           v.GetDuration("callback_dedupe_ttl"),
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt_secret is required")
	}
	if strings.TrimSpace(cfg.Gateway.ChecksumKey) == "" {
		return nil, errors.New("gateway_checksum_key is required")
	}
	if cfg.PendingTimeout <= 0 {
		return nil, fmt.Errorf("payment_pending_timeout must be positive, got %s", cfg.PendingTimeout)
	}
	if cfg.Gateway.Timeout <= 0 {
		return nil, fmt.Errorf("gateway_timeout must be positive, got %s", cfg.Gateway.Timeout)
	}
	return cfg, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
