package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/michaelbrown/runbox/internal/gate"
)

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int `mapstructure:"burst" yaml:"burst"`
}

type ServerConfig struct {
	Port      int             `mapstructure:"port" yaml:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type ExecutionConfig struct {
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size"`
	OuterTimeout   time.Duration `mapstructure:"outer_timeout" yaml:"outer_timeout"`
	EngineTimeout  time.Duration `mapstructure:"engine_timeout" yaml:"engine_timeout"`
	Interpreter    string        `mapstructure:"interpreter" yaml:"interpreter"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

type SessionsConfig struct {
	Root              string        `mapstructure:"root" yaml:"root"`
	TTL               time.Duration `mapstructure:"ttl" yaml:"ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SweepRetryBackoff time.Duration `mapstructure:"sweep_retry_backoff" yaml:"sweep_retry_backoff"`
	SweepSchedule     string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
}

type GateConfig struct {
	ForbiddenModules []string      `mapstructure:"forbidden_modules" yaml:"forbidden_modules"`
	ForbiddenCalls   []string      `mapstructure:"forbidden_calls" yaml:"forbidden_calls"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Sessions  SessionsConfig  `mapstructure:"sessions" yaml:"sessions"`
	Gate      GateConfig      `mapstructure:"gate" yaml:"gate"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.rate_limit.requests_per_minute", 0)
	v.SetDefault("server.rate_limit.burst", 0)

	v.SetDefault("execution.pool_size", 10)
	v.SetDefault("execution.outer_timeout", "1s")
	v.SetDefault("execution.engine_timeout", "30s")
	v.SetDefault("execution.interpreter", "python3")
	v.SetDefault("execution.max_output_bytes", 0)

	v.SetDefault("sessions.root", "sessions")
	v.SetDefault("sessions.ttl", "24h")
	v.SetDefault("sessions.sweep_interval", "1h")
	v.SetDefault("sessions.sweep_retry_backoff", "5m")
	v.SetDefault("sessions.sweep_schedule", "")

	v.SetDefault("gate.forbidden_modules", slices.Clone(gate.DefaultForbiddenModules))
	v.SetDefault("gate.forbidden_calls", slices.Clone(gate.DefaultForbiddenCalls))
	v.SetDefault("gate.timeout", "5s")

	v.SetDefault("storage.db_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "runbox")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Load reads configuration from path, or from runbox.yaml in the working
// directory or $HOME/.runbox when path is empty. A missing file is not an
// error. RUNBOX_* environment variables (and a .env file) override the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUNBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("runbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.runbox")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.RateLimit.RequestsPerMinute >= 0, "server.rate_limit.requests_per_minute must not be negative")
	check(c.Server.RateLimit.Burst >= 0, "server.rate_limit.burst must not be negative")

	check(c.Execution.PoolSize > 0, "execution.pool_size must be positive")
	check(c.Execution.OuterTimeout >= 0, "execution.outer_timeout must not be negative")
	check(c.Execution.EngineTimeout >= 0, "execution.engine_timeout must not be negative")
	check(c.Execution.Interpreter != "", "execution.interpreter is required")
	check(c.Execution.MaxOutputBytes >= 0, "execution.max_output_bytes must not be negative")

	check(c.Sessions.Root != "", "sessions.root is required")
	check(c.Sessions.TTL > 0, "sessions.ttl must be positive")
	check(c.Sessions.SweepSchedule != "" || c.Sessions.SweepInterval > 0,
		"sessions.sweep_interval must be positive when no sweep_schedule is set")
	check(c.Sessions.SweepRetryBackoff > 0, "sessions.sweep_retry_backoff must be positive")

	check(c.Gate.Timeout > 0, "gate.timeout must be positive")

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	check(c.Tracing.SampleRate >= 0 && c.Tracing.SampleRate <= 1, "tracing.sample_rate must be within [0, 1]")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
