package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"cgm-trend-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Nightscout NightscoutConfig `mapstructure:"nightscout"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Prediction PredictionConfig `mapstructure:"prediction"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the periodic sync cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// NightscoutConfig covers telemetry source access.
type NightscoutConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APISecret      string        `mapstructure:"api_secret"`
	APIToken       string        `mapstructure:"api_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	// DefaultUnits applies when an entry carries no unit of its own.
	DefaultUnits string `mapstructure:"default_units"`
	// UTCOffsetMinutes resolves source timestamps transmitted without a zone.
	UTCOffsetMinutes int `mapstructure:"utc_offset_minutes"`
	// SamplingGranularity is the CGM sample spacing used for identity rounding.
	SamplingGranularity time.Duration `mapstructure:"sampling_granularity"`
}

// SyncConfig bounds the sync window.
type SyncConfig struct {
	WindowDays int `mapstructure:"window_days"`
}

// PredictionConfig tunes the trend predictor.
type PredictionConfig struct {
	WindowDays     int     `mapstructure:"window_days"`
	MinPoints      int     `mapstructure:"min_points"`
	TrendPoints    int     `mapstructure:"trend_points"`
	StepMinutes    int     `mapstructure:"step_minutes"`
	HorizonMinutes int     `mapstructure:"horizon_minutes"`
	StableRate     float64 `mapstructure:"stable_rate"`
	FastRate       float64 `mapstructure:"fast_rate"`
}

// RiskConfig defines glucose risk thresholds in mg/dL.
type RiskConfig struct {
	HighThreshold   int `mapstructure:"high_threshold"`
	MediumThreshold int `mapstructure:"medium_threshold"`
	WatchMargin     int `mapstructure:"watch_margin"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// CacheConfig enables the optional prediction cache.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GLUCOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "glucowatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x43474d31))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("nightscout.request_timeout", "30s")
	v.SetDefault("nightscout.user_agent", "glucowatch/1.0")
	v.SetDefault("nightscout.default_units", "mg/dl")
	v.SetDefault("nightscout.utc_offset_minutes", 0)
	v.SetDefault("nightscout.sampling_granularity", "1m")

	v.SetDefault("sync.window_days", 1)

	v.SetDefault("prediction.window_days", 1)
	v.SetDefault("prediction.min_points", 10)
	v.SetDefault("prediction.trend_points", 6)
	v.SetDefault("prediction.step_minutes", 5)
	v.SetDefault("prediction.horizon_minutes", 30)
	v.SetDefault("prediction.stable_rate", 0.5)
	v.SetDefault("prediction.fast_rate", 2.0)

	v.SetDefault("risk.high_threshold", 70)
	v.SetDefault("risk.medium_threshold", 80)
	v.SetDefault("risk.watch_margin", 10)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sync.WindowDays < 1 || c.Sync.WindowDays > 90 {
		return fmt.Errorf("sync.window_days must be within [1, 90]")
	}
	if c.Prediction.WindowDays < 1 || c.Prediction.WindowDays > 7 {
		return fmt.Errorf("prediction.window_days must be within [1, 7]")
	}
	if c.Prediction.MinPoints <= 0 {
		return fmt.Errorf("prediction.min_points must be greater than zero")
	}
	if c.Prediction.StepMinutes <= 0 || c.Prediction.HorizonMinutes < c.Prediction.StepMinutes {
		return fmt.Errorf("prediction horizon must cover at least one step")
	}
	if c.Risk.HighThreshold <= 0 || c.Risk.MediumThreshold <= c.Risk.HighThreshold {
		return fmt.Errorf("risk thresholds must satisfy 0 < high < medium")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
