package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fenix-social/realtime/pkg/networks"
)

type Config struct {
	// Backend
	APIURL    string `env:"API_URL" default:"http://localhost:3000"`
	EventsURL string `env:"EVENTS_URL" default:"ws://localhost:3001"`

	// Local read surface
	ListenAddress string   `env:"LISTEN_ADDRESS" default:":8080"`
	CORSOrigins   []string `env:"CORS_ORIGINS" default:"*"`
	RealIPHeader  string   `env:"REAL_IP_HEADER"`
	AllowedNets   []string `env:"ALLOWED_NETWORKS" default:"loopback and private ranges"`

	// Optional, relays local interactions between processes
	RedisURL string `env:"REDIS_URL"`

	SentryDSN string `env:"SENTRY_DSN"`

	// Session
	AuthToken    string `env:"AUTH_TOKEN"`
	RefreshToken string `env:"REFRESH_TOKEN"`

	// Push channel
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS" default:"5"`
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" default:"1s"`
	ProtoFormat       string        `env:"PROTO_FORMAT" default:"json"`

	// Messages
	SettleTimeout time.Duration `env:"SETTLE_TIMEOUT" default:"0"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" default:"10s"`
}

// Load reads .env if there is one, then the environment.
func Load() (*Config, error) {
	// A missing .env is fine, the environment may carry everything
	godotenv.Load()

	config := &Config{}

	if err := loadEnvString(&config.APIURL, "API_URL", "http://localhost:3000"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.EventsURL, "EVENTS_URL", "ws://localhost:3001"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ListenAddress, "LISTEN_ADDRESS", ":8080"); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.CORSOrigins, "CORS_ORIGINS", []string{"*"}); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RealIPHeader, "REAL_IP_HEADER", ""); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.AllowedNets, "ALLOWED_NETWORKS", networks.DefaultAllowed); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.SentryDSN, "SENTRY_DSN", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AuthToken, "AUTH_TOKEN", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RefreshToken, "REFRESH_TOKEN", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ReconnectAttempts, "RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectInterval, "RECONNECT_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ProtoFormat, "PROTO_FORMAT", "json"); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.SettleTimeout, "SETTLE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HTTPTimeout, "HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = strings.Split(value, ",")
		for i, v := range *target {
			(*target)[i] = strings.TrimSpace(v)
		}
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, "API_URL must be an http(s) URL")
	}
	if u, err := url.Parse(c.EventsURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errors = append(errors, "EVENTS_URL must be a ws(s) URL")
	}
	if c.ReconnectAttempts < 1 {
		errors = append(errors, "RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.ReconnectInterval <= 0 {
		errors = append(errors, "RECONNECT_INTERVAL must be positive")
	}
	if c.SettleTimeout < 0 {
		errors = append(errors, "SETTLE_TIMEOUT must not be negative")
	}
	if _, err := networks.NewAllowlist(c.AllowedNets); err != nil {
		errors = append(errors, "ALLOWED_NETWORKS must be CIDRs, addresses or *")
	}
	validFormats := []string{"json", "msgpack"}
	if !contains(validFormats, c.ProtoFormat) {
		errors = append(errors, fmt.Sprintf("PROTO_FORMAT must be one of: %s", strings.Join(validFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
