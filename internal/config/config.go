package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	ThresholdModeManual  = "manual"
	ThresholdModeDynamic = "dynamic"

	StatusActive  = "active"
	StatusPassive = "passive"
)

var validate = validator.New()

// Config holds all configuration for the application.
type Config struct {
	CoinMarketCap CoinMarketCap  `mapstructure:"coinmarketcap"`
	Defaults      Defaults       `mapstructure:"defaults"`
	Symbols       []SymbolConfig `mapstructure:"symbols" validate:"dive"`
	Tracker       Tracker        `mapstructure:"tracker"`
	History       History        `mapstructure:"history"`
	Alarms        Alarms         `mapstructure:"alarms"`
	Database      Database       `mapstructure:"database"`
	Telegram      Telegram       `mapstructure:"telegram"`
	Logger        Logger         `mapstructure:"logger"`
	Server        Server         `mapstructure:"server"`
}

// CoinMarketCap holds the configuration for the quote provider.
type CoinMarketCap struct {
	ApiKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	RateLimit       int           `mapstructure:"rate_limit" validate:"gt=0"`
	RateWindow      time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	QuoteCacheTTL   time.Duration `mapstructure:"quote_cache_ttl" validate:"gte=0"`
	ListingCacheTTL time.Duration `mapstructure:"listing_cache_ttl" validate:"gte=0"`
}

// Defaults are applied to symbols that leave a field empty.
type Defaults struct {
	Threshold            float64 `mapstructure:"threshold" validate:"gte=0"`
	ThresholdMode        string  `mapstructure:"threshold_mode" validate:"oneof=manual dynamic"`
	Timeframe            string  `mapstructure:"timeframe" validate:"required"`
	FetchIntervalMinutes float64 `mapstructure:"fetch_interval_minutes" validate:"gt=0"`
	MaxConcurrentCoins   int     `mapstructure:"max_concurrent_coins" validate:"gt=0"`
}

// SymbolConfig is the per-coin acquisition and signal setting.
type SymbolConfig struct {
	Coin                 string  `mapstructure:"coin" json:"coin" validate:"required"`
	Timeframe            string  `mapstructure:"timeframe" json:"timeframe" validate:"required"`
	Threshold            float64 `mapstructure:"threshold" json:"threshold" validate:"gte=0"`
	ThresholdMode        string  `mapstructure:"threshold_mode" json:"threshold_mode" validate:"oneof=manual dynamic"`
	Active               *bool   `mapstructure:"active" json:"active"`
	Status               string  `mapstructure:"status" json:"status" validate:"oneof=active passive"`
	FetchIntervalMinutes float64 `mapstructure:"fetch_interval_minutes" json:"fetch_interval_minutes" validate:"gt=0"`
}

// IsActive reports the active flag. A symbol without one is active.
func (s SymbolConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Enabled reports whether the symbol should be polled.
func (s SymbolConfig) Enabled() bool {
	return s.IsActive() && s.Status != StatusPassive
}

// Equal compares settings by value.
func (s SymbolConfig) Equal(o SymbolConfig) bool {
	a, b := s, o
	a.Active, b.Active = nil, nil
	return a == b && s.IsActive() == o.IsActive()
}

// Bool returns a pointer to v, for building SymbolConfig literals.
func Bool(v bool) *bool {
	return &v
}

// FetchInterval returns the sleep between two polls of the symbol.
func (s SymbolConfig) FetchInterval() time.Duration {
	return time.Duration(s.FetchIntervalMinutes * float64(time.Minute))
}

// Tracker holds the configuration for the outcome tracker.
type Tracker struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Expiry   time.Duration `mapstructure:"expiry" validate:"gt=0"`
}

// History holds the configuration for the price history store.
type History struct {
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
	Window    int           `mapstructure:"window" validate:"gt=0"`
}

// Alarms holds the configuration for entry-price alarms.
type Alarms struct {
	Enabled   bool    `mapstructure:"enabled"`
	Tolerance float64 `mapstructure:"tolerance" validate:"gte=0,lt=1"`
}

// Database holds the configuration for the database.
// DSN is the sqlite database for history and alarms, and for signals when
// Driver is sqlite. PostgresDSN is used for signals when Driver is postgres.
type Database struct {
	Driver      string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN         string `mapstructure:"dsn" validate:"required"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// Telegram holds the configuration for signal notifications.
type Telegram struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server holds the configuration for the status server.
type Server struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"gte=0,lte=65535"`
	UIPort  int  `mapstructure:"ui_port" validate:"gte=0,lte=65535"`
}

// ConfigMissingError is returned when a required setting is absent.
type ConfigMissingError struct {
	Key string
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("missing required config value %q", e.Key)
}

// ErrMissingAPIKey is returned when no provider API key is configured.
var ErrMissingAPIKey = &ConfigMissingError{Key: "coinmarketcap.api_key"}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := newViper(path)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	return decode(v)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("coinmarketcap.api_key", "")
	v.SetDefault("coinmarketcap.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("coinmarketcap.rate_limit", 30)
	v.SetDefault("coinmarketcap.rate_window", time.Minute)
	v.SetDefault("coinmarketcap.timeout", 20*time.Second)
	v.SetDefault("coinmarketcap.retry_backoff", time.Second)
	v.SetDefault("coinmarketcap.quote_cache_ttl", 10*time.Second)
	v.SetDefault("coinmarketcap.listing_cache_ttl", time.Minute)

	v.SetDefault("defaults.threshold", 4.0)
	v.SetDefault("defaults.threshold_mode", ThresholdModeDynamic)
	v.SetDefault("defaults.timeframe", "24h")
	v.SetDefault("defaults.fetch_interval_minutes", 2.0)
	v.SetDefault("defaults.max_concurrent_coins", 20)

	v.SetDefault("tracker.interval", 5*time.Minute)
	v.SetDefault("tracker.expiry", 24*time.Hour)

	v.SetDefault("history.retention", 90*24*time.Hour)
	v.SetDefault("history.window", 250)

	v.SetDefault("alarms.enabled", true)
	v.SetDefault("alarms.tolerance", 0.005)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "signals.db")
	v.SetDefault("database.postgres_dsn", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ui_port", 8081)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills per-symbol gaps from the defaults section and
// normalizes coin symbols to upper case.
func (c *Config) applyDefaults() {
	for i := range c.Symbols {
		s := &c.Symbols[i]
		s.Coin = strings.ToUpper(strings.TrimSpace(s.Coin))
		if s.Timeframe == "" {
			s.Timeframe = c.Defaults.Timeframe
		}
		if s.ThresholdMode == "" {
			s.ThresholdMode = c.Defaults.ThresholdMode
		}
		if s.Threshold == 0 {
			s.Threshold = c.Defaults.Threshold
		}
		if s.FetchIntervalMinutes <= 0 {
			s.FetchIntervalMinutes = c.Defaults.FetchIntervalMinutes
		}
		if s.Status == "" {
			if s.IsActive() {
				s.Status = StatusActive
			} else {
				s.Status = StatusPassive
			}
		}
		if s.Active == nil {
			s.Active = Bool(s.Status != StatusPassive)
		}
	}
}

// Validate checks struct constraints and rejects duplicate symbols.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.validateSymbols()
}

func (c *Config) validateSymbols() error {
	seen := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		if err := validate.Struct(s); err != nil {
			return fmt.Errorf("invalid config: symbol %s: %w", s.Coin, err)
		}
		if _, ok := seen[s.Coin]; ok {
			return fmt.Errorf("invalid config: duplicate symbol %s", s.Coin)
		}
		seen[s.Coin] = struct{}{}
	}
	return nil
}

// Symbol returns the settings of the given coin.
func (c *Config) Symbol(coin string) (SymbolConfig, bool) {
	coin = strings.ToUpper(coin)
	for _, s := range c.Symbols {
		if s.Coin == coin {
			return s, true
		}
	}
	return SymbolConfig{}, false
}
