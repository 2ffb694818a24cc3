// Package config loads erpctl and client configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all client configuration
type Config struct {
	App       AppConfig
	API       APIConfig
	Storage   StorageConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Metrics   MetricsConfig
	Warmup    WarmupConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// APIConfig describes how the backend is reached.
// Which of the base URL fields wins is decided by ResolveBaseURL.
type APIConfig struct {
	BaseURL        string // build-time style override, e.g. ERP_API_BASE_URL
	Prefix         string // versioned REST namespace, e.g. /api/v1
	Origin         string // origin used for the relative fallback
	Protocol       string
	Host           string
	Port           int
	DevProxy       bool   // route through a same-origin dev proxy
	DevProxyOrigin string // origin of the dev proxy
	RuntimeConfig  string // path of a runtime-injected config file (apiBaseUrl)
	Timeout        time.Duration
	UserAgent      string
	TLSSkipVerify  bool
	RateLimitRPS   float64 // 0 disables client-side rate limiting
	RateLimitBurst int
}

// StorageConfig selects where sessions and pending MFA enrollments live
type StorageConfig struct {
	Backend       string // file, memory, redis
	Dir           string // directory for the file backend
	MFAPendingTTL time.Duration
	Redis         RedisConfig
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// MetricsConfig holds the optional prometheus endpoint
type MetricsConfig struct {
	Addr string
	Path string
}

// WarmupConfig lists the endpoints fetched right after login
type WarmupConfig struct {
	Enabled     bool
	Paths       []string
	Concurrency int
	Timeout     time.Duration
}

// Load loads configuration from config.yaml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_API_BASE_URL)
// 2. .env file in the working directory
// 3. config.yaml
// 4. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.erpctl")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		API: APIConfig{
			BaseURL:        v.GetString("api.base_url"),
			Prefix:         v.GetString("api.prefix"),
			Origin:         v.GetString("api.origin"),
			Protocol:       v.GetString("api.protocol"),
			Host:           v.GetString("api.host"),
			Port:           v.GetInt("api.port"),
			DevProxy:       v.GetBool("api.dev_proxy"),
			DevProxyOrigin: v.GetString("api.dev_proxy_origin"),
			RuntimeConfig:  v.GetString("api.runtime_config"),
			Timeout:        v.GetDuration("api.timeout"),
			UserAgent:      v.GetString("api.user_agent"),
			TLSSkipVerify:  v.GetBool("api.tls_skip_verify"),
			RateLimitRPS:   v.GetFloat64("api.rate_limit_rps"),
			RateLimitBurst: v.GetInt("api.rate_limit_burst"),
		},
		Storage: StorageConfig{
			Backend:       v.GetString("storage.backend"),
			Dir:           v.GetString("storage.dir"),
			MFAPendingTTL: v.GetDuration("storage.mfa_pending_ttl"),
			Redis: RedisConfig{
				Host:      v.GetString("storage.redis.host"),
				Port:      v.GetInt("storage.redis.port"),
				Password:  v.GetString("storage.redis.password"),
				DB:        v.GetInt("storage.redis.db"),
				KeyPrefix: v.GetString("storage.redis.key_prefix"),
			},
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
			Path: v.GetString("metrics.path"),
		},
		Warmup: WarmupConfig{
			Enabled:     v.GetBool("warmup.enabled"),
			Paths:       v.GetStringSlice("warmup.paths"),
			Concurrency: v.GetInt("warmup.concurrency"),
			Timeout:     v.GetDuration("warmup.timeout"),
		},
	}
	if !v.IsSet("warmup.enabled") {
		cfg.Warmup.Enabled = true
	}

	applyDefaults(cfg)
	cfg.Storage.Dir = os.ExpandEnv(cfg.Storage.Dir)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erpctl"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.API.Prefix == "" {
		cfg.API.Prefix = "/api/v1"
	}
	if cfg.API.Origin == "" {
		cfg.API.Origin = "http://localhost:8080"
	}
	if cfg.API.DevProxyOrigin == "" {
		cfg.API.DevProxyOrigin = "http://localhost:5173"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "erpctl/1.0"
	}
	if cfg.API.RateLimitRPS > 0 && cfg.API.RateLimitBurst == 0 {
		cfg.API.RateLimitBurst = 1
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "$HOME/.erpctl"
	}
	if cfg.Storage.MFAPendingTTL == 0 {
		cfg.Storage.MFAPendingTTL = 15 * time.Minute
	}
	if cfg.Storage.Redis.Host == "" {
		cfg.Storage.Redis.Host = "localhost"
	}
	if cfg.Storage.Redis.Port == 0 {
		cfg.Storage.Redis.Port = 6379
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = "erpctl:"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erpctl"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if len(cfg.Warmup.Paths) == 0 {
		cfg.Warmup.Paths = []string{"/auth/me", "/dealers", "/accounting/accounts"}
	}
	if cfg.Warmup.Concurrency == 0 {
		cfg.Warmup.Concurrency = 4
	}
	if cfg.Warmup.Timeout == 0 {
		cfg.Warmup.Timeout = 10 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "file", "memory", "redis":
	default:
		return fmt.Errorf("storage.backend must be one of file, memory, redis, got %q", c.Storage.Backend)
	}
	if !strings.HasPrefix(c.API.Prefix, "/") {
		return fmt.Errorf("api.prefix must start with '/', got %q", c.API.Prefix)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 0 and 65535, got %d", c.API.Port)
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps cannot be negative")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.API.TLSSkipVerify {
			return fmt.Errorf("api.tls_skip_verify cannot be enabled in production")
		}
		if c.API.DevProxy {
			return fmt.Errorf("api.dev_proxy cannot be enabled in production")
		}
	}

	return nil
}
