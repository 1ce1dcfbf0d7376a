// Package config loads gateway settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every load or validation failure
var ErrConfiguration = errors.New("configuration error")

var defaults = map[string]any{
	"app_name":        "Vatochito Gateway v1.0",
	"port":            "8080",
	"allowed_origins": "http://localhost:3000",

	"log_level":  "info",
	"log_format": "json",

	"store":            "postgres",
	"database_url":     "",
	"db_max_conns":     int32(10),
	"migrate_on_start": true,
	"store_timeout":    5 * time.Second,

	"jwt_secret":   "",
	"jwt_jwks_url": "",
	"jwt_issuer":   "",

	"broker":    "memory",
	"nats_url":  "",
	"nats_user": "",
	"nats_pass": "",
	"redis_url": "",
	"scheduler": "local",

	"send_buffer":       256,
	"typing_ttl":        5 * time.Second,
	"call_ring_timeout": 45 * time.Second,
	"ws_rate_limit":     20,
	"publish_key_hash":  "",

	"otel_exporter_otlp_endpoint": "",
	"otel_stdout":                 false,
}

// Config holds every gateway setting. Each field maps to an upper-case
// environment variable of the same name, e.g. DATABASE_URL.
type Config struct {
	AppName        string `mapstructure:"app_name" validate:"required"`
	Port           string `mapstructure:"port" validate:"required,numeric"`
	AllowedOrigins string `mapstructure:"allowed_origins" validate:"required"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`

	Store          string        `mapstructure:"store" validate:"oneof=postgres memory"`
	DatabaseURL    string        `mapstructure:"database_url" validate:"required_if=Store postgres"`
	DBMaxConns     int32         `mapstructure:"db_max_conns" validate:"min=1,max=1000"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout" validate:"min=100ms,max=1m"`

	JWTSecret  string `mapstructure:"jwt_secret" validate:"required_without=JWTJWKSURL"`
	JWTJWKSURL string `mapstructure:"jwt_jwks_url" validate:"omitempty,url"`
	JWTIssuer  string `mapstructure:"jwt_issuer"`

	Broker    string `mapstructure:"broker" validate:"oneof=memory nats redis"`
	NATSURL   string `mapstructure:"nats_url" validate:"required_if=Broker nats"`
	NATSUser  string `mapstructure:"nats_user"`
	NATSPass  string `mapstructure:"nats_pass"`
	RedisURL  string `mapstructure:"redis_url"`
	Scheduler string `mapstructure:"scheduler" validate:"oneof=local asynq"`

	SendBuffer     int           `mapstructure:"send_buffer" validate:"min=1,max=65536"`
	TypingTTL      time.Duration `mapstructure:"typing_ttl" validate:"min=1s,max=1m"`
	RingTimeout    time.Duration `mapstructure:"call_ring_timeout" validate:"min=5s,max=10m"`
	WSRateLimit    int           `mapstructure:"ws_rate_limit" validate:"min=1"`
	PublishKeyHash string        `mapstructure:"publish_key_hash"`

	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	OTELStdout   bool   `mapstructure:"otel_stdout"`
}

// Load reads the configuration from the environment on top of defaults and
// validates it
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate checks field constraints and the combinations that depend on
// the selected backends
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.RedisURL == "" && (c.Broker == "redis" || c.Scheduler == "asynq") {
		return errors.New("REDIS_URL is required for the redis broker and the asynq scheduler")
	}

	return nil
}
