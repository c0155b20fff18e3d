package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	TEF           TEFConfig           `mapstructure:"tef"`
	Printer       PrinterConfig       `mapstructure:"printer"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Store         StoreConfig         `mapstructure:"store"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type TEFConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
}

type PrinterConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    uint          `mapstructure:"max_attempts"`
	AttemptDelay   time.Duration `mapstructure:"attempt_delay"`
}

type SyncConfig struct {
	URL                string        `mapstructure:"url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

type StoreConfig struct {
	// Driver selects the persistence backend: "memory" or "sqlite".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type OutboxConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	Jitter       time.Duration `mapstructure:"jitter"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KIOSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kiosk")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.TEF.BaseURL == "" {
		errs = append(errs, fmt.Errorf("tef.base_url is required"))
	}
	if c.TEF.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("tef.poll_interval must be positive"))
	}
	if c.TEF.PollTimeout < c.TEF.PollInterval {
		errs = append(errs, fmt.Errorf("tef.poll_timeout must be at least tef.poll_interval"))
	}
	if c.Printer.BaseURL == "" {
		errs = append(errs, fmt.Errorf("printer.base_url is required"))
	}
	if c.Printer.MaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("printer.max_attempts must be positive"))
	}
	if c.Sync.URL == "" {
		errs = append(errs, fmt.Errorf("sync.url is required"))
	}
	if c.Outbox.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("outbox.tick_interval must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("outbox.batch_size must be positive"))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path required when store.driver is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// TEF defaults
	v.SetDefault("tef.base_url", "http://localhost:9001")
	v.SetDefault("tef.request_timeout", "10s")
	v.SetDefault("tef.poll_interval", "1500ms")
	v.SetDefault("tef.poll_timeout", "60s")

	// Printer defaults
	v.SetDefault("printer.base_url", "http://localhost:9002")
	v.SetDefault("printer.request_timeout", "10s")
	v.SetDefault("printer.max_attempts", 3)
	v.SetDefault("printer.attempt_delay", "400ms")

	// Sync defaults
	v.SetDefault("sync.url", "http://localhost:9003/sync/events")
	v.SetDefault("sync.request_timeout", "10s")
	v.SetDefault("sync.breaker_max_failures", 5)
	v.SetDefault("sync.breaker_open_timeout", "30s")

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "kiosk.db")

	// Outbox defaults
	v.SetDefault("outbox.tick_interval", "2s")
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.base_delay", "500ms")
	v.SetDefault("outbox.jitter", "300ms")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)
}
