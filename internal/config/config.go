// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"walletledger/internal/ledger"
)

type Config struct {
	PostgresURL      string `mapstructure:"postgres_url"`
	AccountingMethod string `mapstructure:"accounting_method"`
	IncludeFees      bool   `mapstructure:"include_fees"`
	FeeAllocation    string `mapstructure:"fee_allocation"`
	PriceFeedURL     string `mapstructure:"price_feed_url"`
	PriceDelay       int    `mapstructure:"price_delay"`
	PriceMaxAge      int    `mapstructure:"price_max_age"`
	Workers          int    `mapstructure:"workers"`
	Retries          int    `mapstructure:"retries"`
	EventBufferSize  int    `mapstructure:"event_buffer_size"`
	MetricsListen    string `mapstructure:"metrics_listen"`
	DebugLogging     bool   `mapstructure:"debug_logging"`
	LogFile          string `mapstructure:"log_file"`
}

const (
	DefaultPriceDelay      = 500
	DefaultPriceMaxAge     = 60000
	DefaultWorkers         = 5
	DefaultRetries         = 3
	DefaultEventBufferSize = 256
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"accounting_method": string(ledger.FIFO),
		"include_fees":      true,
		"fee_allocation":    string(ledger.FeeProportional),
		"price_delay":       DefaultPriceDelay,
		"price_max_age":     DefaultPriceMaxAge,
		"workers":           DefaultWorkers,
		"retries":           DefaultRetries,
		"event_buffer_size": DefaultEventBufferSize,
		"log_file":          "ledger.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// Accounting translates the raw settings into an accounting configuration.
func (c *Config) Accounting() (ledger.AccountingConfig, error) {
	method, err := ledger.ParseMethod(c.AccountingMethod)
	if err != nil {
		return ledger.AccountingConfig{}, err
	}
	allocation, err := ledger.ParseFeeAllocation(c.FeeAllocation)
	if err != nil {
		return ledger.AccountingConfig{}, err
	}
	return ledger.AccountingConfig{
		Method:        method,
		IncludeFees:   c.IncludeFees,
		FeeAllocation: allocation,
	}, nil
}

func validateConfig(cfg *Config) error {
	if _, err := cfg.Accounting(); err != nil {
		return err
	}
	if cfg.PostgresURL != "" {
		if err := validateURL(cfg.PostgresURL, "postgres"); err != nil {
			return errors.New("invalid postgres URL")
		}
	}
	if cfg.PriceFeedURL != "" {
		if err := validateURL(cfg.PriceFeedURL, "http"); err != nil {
			return errors.New("invalid price feed URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.PriceDelay <= 0 {
		return errors.New("invalid price_delay")
	}
	if cfg.PriceMaxAge <= 0 {
		return errors.New("invalid price_max_age")
	}
	if cfg.Workers <= 0 {
		return errors.New("invalid workers count")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.EventBufferSize <= 0 {
		return errors.New("invalid event_buffer_size")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("WALLETLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envURL := v.GetString("POSTGRES_URL"); envURL != "" {
		cfg.PostgresURL = envURL
	}
	if envFeed := v.GetString("PRICE_FEED_URL"); envFeed != "" {
		cfg.PriceFeedURL = envFeed
	}
	return nil
}
