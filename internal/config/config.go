package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"wallet-watch/internal/logging"
	"wallet-watch/internal/tier"
)

// Sample interval bounds enforced at the configuration boundary.
const (
	MinSampleInterval = 30 * time.Second
	MaxSampleInterval = time.Hour
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Base      BaseConfig      `mapstructure:"base"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
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

// PricingConfig covers the market data API.
type PricingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	VsCurrency     string        `mapstructure:"vs_currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// TiersConfig holds the three percentage thresholds.
type TiersConfig struct {
	Minor    float64 `mapstructure:"minor"`
	Major    float64 `mapstructure:"major"`
	Critical float64 `mapstructure:"critical"`
}

// ToTier converts to the classifier's decimal config.
func (t TiersConfig) ToTier() tier.Config {
	return tier.ConfigFromFloats(t.Minor, t.Major, t.Critical)
}

// EnableConfig gates emission per tier.
type EnableConfig struct {
	Minor    bool `mapstructure:"minor"`
	Major    bool `mapstructure:"major"`
	Critical bool `mapstructure:"critical"`
}

// PortfolioConfig parameterises the wallet holdings watcher.
type PortfolioConfig struct {
	WalletAddress  string        `mapstructure:"wallet_address"`
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MilestoneUSD   float64       `mapstructure:"milestone_usd"`
	Interval       time.Duration `mapstructure:"interval"`
	Tiers          TiersConfig   `mapstructure:"tiers"`
	Enable         EnableConfig  `mapstructure:"enable"`
}

// BaseConfig parameterises the privileged base token watcher.
type BaseConfig struct {
	TokenID  string        `mapstructure:"token_id"`
	Symbol   string        `mapstructure:"symbol"`
	Interval time.Duration `mapstructure:"interval"`
	Tiers    TiersConfig   `mapstructure:"tiers"`
	Enable   EnableConfig  `mapstructure:"enable"`
}

// WatchConfig carries engine-wide defaults and housekeeping cadence.
type WatchConfig struct {
	DefaultInterval   time.Duration `mapstructure:"default_interval"`
	DefaultTiers      TiersConfig   `mapstructure:"default_tiers"`
	HistoryKeep       int           `mapstructure:"history_keep"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	AlertRetention    time.Duration `mapstructure:"alert_retention"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALLETWATCH")
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
	v.SetDefault("app.name", "wallet-watch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("pricing.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricing.vs_currency", "usd")
	v.SetDefault("pricing.request_timeout", "10s")
	v.SetDefault("pricing.max_retries", 3)
	v.SetDefault("pricing.user_agent", "wallet-watch/1.0")

	v.SetDefault("portfolio.request_timeout", "10s")
	v.SetDefault("portfolio.milestone_usd", 10000.0)
	v.SetDefault("portfolio.interval", "5m")
	v.SetDefault("portfolio.tiers.minor", 2.0)
	v.SetDefault("portfolio.tiers.major", 10.0)
	v.SetDefault("portfolio.tiers.critical", 20.0)
	v.SetDefault("portfolio.enable.minor", false)
	v.SetDefault("portfolio.enable.major", true)
	v.SetDefault("portfolio.enable.critical", true)

	v.SetDefault("base.token_id", "ethereum")
	v.SetDefault("base.symbol", "ETH")
	v.SetDefault("base.interval", "5m")
	v.SetDefault("base.tiers.minor", 2.0)
	v.SetDefault("base.tiers.major", 10.0)
	v.SetDefault("base.tiers.critical", 20.0)
	v.SetDefault("base.enable.minor", true)
	v.SetDefault("base.enable.major", true)
	v.SetDefault("base.enable.critical", true)

	v.SetDefault("watch.default_interval", "5m")
	v.SetDefault("watch.default_tiers.minor", 2.0)
	v.SetDefault("watch.default_tiers.major", 10.0)
	v.SetDefault("watch.default_tiers.critical", 20.0)
	v.SetDefault("watch.history_keep", 1000)
	v.SetDefault("watch.reconcile_interval", "1m")
	v.SetDefault("watch.alert_retention", "720h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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

// ValidateInterval checks a sample interval against the engine bounds.
func ValidateInterval(d time.Duration) error {
	if d < MinSampleInterval || d > MaxSampleInterval {
		return fmt.Errorf("sample interval %s out of range [%s, %s]", d, MinSampleInterval, MaxSampleInterval)
	}
	return nil
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Watch.HistoryKeep <= 0 {
		return fmt.Errorf("watch.history_keep must be greater than zero")
	}
	if c.Watch.ReconcileInterval <= 0 {
		return fmt.Errorf("watch.reconcile_interval must be greater than zero")
	}
	if c.Portfolio.MilestoneUSD <= 0 {
		return fmt.Errorf("portfolio.milestone_usd must be greater than zero")
	}

	for name, interval := range map[string]time.Duration{
		"portfolio.interval":     c.Portfolio.Interval,
		"base.interval":          c.Base.Interval,
		"watch.default_interval": c.Watch.DefaultInterval,
	} {
		if err := ValidateInterval(interval); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for name, tiers := range map[string]TiersConfig{
		"portfolio.tiers":     c.Portfolio.Tiers,
		"base.tiers":          c.Base.Tiers,
		"watch.default_tiers": c.Watch.DefaultTiers,
	} {
		if err := tiers.ToTier().Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
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
