package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"intentlend/crypto"
	"intentlend/gateway/middleware"
	"intentlend/services/viewsink"
)

const (
	defaultListen          = ":8080"
	defaultEngineConfig    = "intentlend.toml"
	defaultRequestTimeout  = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultKeeperInterval  = 30 * time.Second
	defaultKeeperBatch     = 50
)

// Config captures the runtime settings for the lending daemon. Engine
// parameters live in the TOML file named by EngineConfig.
type Config struct {
	ListenAddress   string        `yaml:"listen"`
	Env             string        `yaml:"env"`
	EngineConfig    string        `yaml:"engine_config"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TLS           TLSConfig                       `yaml:"tls"`
	Auth          AuthConfig                      `yaml:"auth"`
	RateLimits    map[string]middleware.RateLimit `yaml:"rate_limits"`
	CORS          middleware.CORSConfig           `yaml:"cors"`
	Observability middleware.ObservabilityConfig  `yaml:"observability"`
	Logging       LoggingConfig                   `yaml:"logging"`
	Sinks         SinksConfig                     `yaml:"sinks"`
	NATS          NATSConfig                      `yaml:"nats"`
	Telemetry     TelemetryConfig                 `yaml:"telemetry"`
	Keeper        KeeperConfig                    `yaml:"keeper"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification and the scopes each route
// group demands.
type AuthConfig struct {
	middleware.AuthConfig `yaml:",inline"`
	WriteScopes           []string `yaml:"write_scopes"`
	ReadScopes            []string `yaml:"read_scopes"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SinksConfig enables the external view mirrors. Both are optional.
type SinksConfig struct {
	Redis *viewsink.RedisConfig `yaml:"redis"`
	SQL   *SQLSinkConfig        `yaml:"sql"`
}

type SQLSinkConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig enables event forwarding to JetStream when URL is set.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Buffer int    `yaml:"buffer"`
}

// TelemetryConfig feeds observability/otel.Init. Empty fields fall back to
// the OTEL_* environment.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// KeeperConfig enables the periodic liquidation sweep when Liquidator is set.
// The liquidator address must hold the liquidator role in the engine config.
type KeeperConfig struct {
	Liquidator string        `yaml:"liquidator"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
}

// Enabled reports whether a liquidator identity is configured.
func (cfg KeeperConfig) Enabled() bool { return cfg.Liquidator != "" }

// LiquidatorAddress parses the configured liquidator.
func (cfg KeeperConfig) LiquidatorAddress() (crypto.Address, error) {
	return crypto.ParseAddress(cfg.Liquidator)
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.EngineConfig = strings.TrimSpace(cfg.EngineConfig)
	if cfg.EngineConfig == "" {
		cfg.EngineConfig = defaultEngineConfig
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "lendingd"
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.NATS.URL = strings.TrimSpace(cfg.NATS.URL)
	cfg.Keeper.Liquidator = strings.TrimSpace(cfg.Keeper.Liquidator)
	if cfg.Keeper.Interval <= 0 {
		cfg.Keeper.Interval = defaultKeeperInterval
	}
	if cfg.Keeper.BatchSize <= 0 {
		cfg.Keeper.BatchSize = defaultKeeperBatch
	}
	if cfg.Sinks.SQL != nil {
		cfg.Sinks.SQL.DSN = strings.TrimSpace(cfg.Sinks.SQL.DSN)
	}
	if cfg.Sinks.Redis != nil {
		cfg.Sinks.Redis.Addr = strings.TrimSpace(cfg.Sinks.Redis.Addr)
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	var errs []error
	if err := cfg.TLS.validate(); err != nil {
		errs = append(errs, fmt.Errorf("tls: %w", err))
	}
	if err := cfg.Auth.validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if cfg.Sinks.SQL != nil && cfg.Sinks.SQL.DSN == "" {
		errs = append(errs, fmt.Errorf("sinks.sql: dsn required"))
	}
	if cfg.Sinks.Redis != nil && cfg.Sinks.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("sinks.redis: addr required"))
	}
	if cfg.NATS.Buffer < 0 {
		errs = append(errs, fmt.Errorf("nats: buffer must not be negative"))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry: sample_ratio must be within [0,1]"))
	}
	if cfg.Keeper.Enabled() {
		if _, err := cfg.Keeper.LiquidatorAddress(); err != nil {
			errs = append(errs, fmt.Errorf("keeper: liquidator: %w", err))
		}
	}
	for key, limit := range cfg.RateLimits {
		if limit.RatePerSecond <= 0 || limit.Burst <= 0 {
			errs = append(errs, fmt.Errorf("rate_limits.%s: rate_per_second and burst must be positive", key))
		}
	}
	return errors.Join(errs...)
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.WriteScopes = trimAll(cfg.WriteScopes)
	cfg.ReadScopes = trimAll(cfg.ReadScopes)
}

func (cfg AuthConfig) validate() error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac_secret must be at least 32 bytes when auth is enabled")
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
