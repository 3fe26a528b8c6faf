package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/collect"
	"github.com/sells-group/marketmind/internal/db"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Aggregate  AggregateConfig  `yaml:"aggregate" mapstructure:"aggregate"`
	Collect    CollectConfig    `yaml:"collect" mapstructure:"collect"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	// Driver is one of sqlite, postgres or file.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Dir holds the file store, or the SQLite database when DatabaseURL is empty.
	Dir      string `yaml:"dir" mapstructure:"dir"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Pool returns the Postgres pool sizing.
func (s StoreConfig) Pool() db.PoolConfig {
	return db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// AggregateConfig configures merging and finalization.
type AggregateConfig struct {
	ExpectedSources []string `yaml:"expected_sources" mapstructure:"expected_sources"`
	DeadlineSecs    int      `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	PolicyPath      string   `yaml:"policy_path" mapstructure:"policy_path"`
	HalfLifeDays    float64  `yaml:"half_life_days" mapstructure:"half_life_days"`
	DecayFloor      float64  `yaml:"decay_floor" mapstructure:"decay_floor"`
	StaleAfterHours int      `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// CollectConfig configures collaborator fan-out.
type CollectConfig struct {
	DataDir          string        `yaml:"data_dir" mapstructure:"data_dir"`
	// BaseURL serves the same documents over HTTP; it takes precedence over DataDir.
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"`
	MaxConcurrent    int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RatePerSec       float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int           `yaml:"burst" mapstructure:"burst"`
	FetchTimeoutSecs int           `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	ReuseMaxAgeHours int           `yaml:"reuse_max_age_hours" mapstructure:"reuse_max_age_hours"`
	Retry            RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit          CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures per-fetch retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

// CircuitConfig configures the per-source circuit breakers.
type CircuitConfig struct {
	Threshold    int `yaml:"threshold" mapstructure:"threshold"`
	CooldownSecs int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	Probes       int `yaml:"probes" mapstructure:"probes"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the source health checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CompletenessThreshold float64 `yaml:"completeness_threshold" mapstructure:"completeness_threshold"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and the environment. A .env file
// in the working directory is loaded first; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKETMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dir", "data")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("aggregate.expected_sources", sourceNames(model.AllSources()))
	v.SetDefault("aggregate.deadline_secs", 30)
	v.SetDefault("aggregate.half_life_days", 7)
	v.SetDefault("aggregate.decay_floor", 0.1)
	v.SetDefault("aggregate.stale_after_hours", 72)
	v.SetDefault("collect.data_dir", "research")
	v.SetDefault("collect.max_concurrent", 5)
	v.SetDefault("collect.rate_per_sec", 0)
	v.SetDefault("collect.burst", 1)
	v.SetDefault("collect.fetch_timeout_secs", 10)
	v.SetDefault("collect.reuse_max_age_hours", 0)
	v.SetDefault("collect.retry.max_attempts", 3)
	v.SetDefault("collect.retry.initial_backoff_ms", 200)
	v.SetDefault("collect.retry.max_backoff_ms", 5000)
	v.SetDefault("collect.retry.multiplier", 2.0)
	v.SetDefault("collect.retry.jitter", 0.2)
	v.SetDefault("collect.circuit.threshold", 5)
	v.SetDefault("collect.circuit.cooldown_secs", 30)
	v.SetDefault("collect.circuit.probes", 1)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.completeness_threshold", 0.6)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: research, serve, records.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "file":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or file", c.Store.Driver))
	}
	if c.Store.Driver == "file" && c.Store.Dir == "" {
		errs = append(errs, "store.dir is required for the file driver")
	}

	if len(c.Aggregate.ExpectedSources) == 0 {
		errs = append(errs, "aggregate.expected_sources must not be empty")
	} else if _, err := model.ParseSources(c.Aggregate.ExpectedSources); err != nil {
		errs = append(errs, "aggregate.expected_sources: "+err.Error())
	}
	if c.Aggregate.DeadlineSecs <= 0 {
		errs = append(errs, "aggregate.deadline_secs must be > 0")
	}
	if c.Aggregate.DecayFloor < 0 || c.Aggregate.DecayFloor > 1 {
		errs = append(errs, "aggregate.decay_floor must be between 0 and 1")
	}

	if c.Monitoring.Enabled {
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
	}

	switch mode {
	case "research":
		if c.Collect.DataDir == "" && c.Collect.BaseURL == "" {
			errs = append(errs, "collect.data_dir or collect.base_url is required")
		}
		if c.Collect.MaxConcurrent < 1 || c.Collect.MaxConcurrent > 50 {
			errs = append(errs, "collect.max_concurrent must be between 1 and 50")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Collect.MaxConcurrent < 1 || c.Collect.MaxConcurrent > 50 {
			errs = append(errs, "collect.max_concurrent must be between 1 and 50")
		}
	case "records":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AggregateConfig builds the aggregator configuration, loading the policy
// file when one is set.
func (c *Config) AggregateConfig() (aggregate.Config, error) {
	expected, err := model.ParseSources(c.Aggregate.ExpectedSources)
	if err != nil {
		return aggregate.Config{}, eris.Wrap(err, "config: expected sources")
	}

	policy := aggregate.DefaultPolicy()
	if c.Aggregate.PolicyPath != "" {
		policy, err = aggregate.LoadPolicy(c.Aggregate.PolicyPath)
		if err != nil {
			return aggregate.Config{}, err
		}
	}

	return aggregate.Config{
		Expected: expected,
		Policy:   policy,
		Decay: aggregate.DecayConfig{
			HalfLife: time.Duration(c.Aggregate.HalfLifeDays * float64(24*time.Hour)),
			Floor:    c.Aggregate.DecayFloor,
		},
		StaleAfter: time.Duration(c.Aggregate.StaleAfterHours) * time.Hour,
	}, nil
}

// CollectOptions builds runner options. The store is attached by the caller.
func (c *Config) CollectOptions() collect.Options {
	return collect.Options{
		Budget:        time.Duration(c.Aggregate.DeadlineSecs) * time.Second,
		FetchTimeout:  time.Duration(c.Collect.FetchTimeoutSecs) * time.Second,
		MaxConcurrent: c.Collect.MaxConcurrent,
		Guard: resilience.GuardConfig{
			Retry: resilience.RetryConfig{
				MaxAttempts:    c.Collect.Retry.MaxAttempts,
				InitialBackoff: time.Duration(c.Collect.Retry.InitialBackoffMS) * time.Millisecond,
				MaxBackoff:     time.Duration(c.Collect.Retry.MaxBackoffMS) * time.Millisecond,
				Multiplier:     c.Collect.Retry.Multiplier,
				JitterFraction: c.Collect.Retry.Jitter,
			},
			Breaker: resilience.BreakerConfig{
				Threshold: c.Collect.Circuit.Threshold,
				Cooldown:  time.Duration(c.Collect.Circuit.CooldownSecs) * time.Second,
				Probes:    c.Collect.Circuit.Probes,
			},
			RatePerSec: c.Collect.RatePerSec,
			Burst:      c.Collect.Burst,
		},
		ReuseMaxAge: time.Duration(c.Collect.ReuseMaxAgeHours) * time.Hour,
	}
}

func sourceNames(srcs []model.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = string(s)
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
