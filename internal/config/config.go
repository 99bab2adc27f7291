package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bank     BankConfig     `yaml:"bank"`
	Tokens   []TokenConfig  `yaml:"tokens"`
	Notifier NotifierConfig `yaml:"notifier"`
}

type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	MetricsAddr    string  `yaml:"metricsAddr"`
	RateLimitRPS   float64 `yaml:"rateLimitRps"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`
	AdminSecret    string  `yaml:"adminSecret"`
}

type BankConfig struct {
	Admin              string `yaml:"admin"`
	BankCapUSD         string `yaml:"bankCapUsd"`
	WithdrawalLimitUSD string `yaml:"withdrawalLimitUsd"`
	NativeAsset        string `yaml:"nativeAsset"`
	NativeDecimals     uint8  `yaml:"nativeDecimals"`
	// NativePrice is the fixed quote served for the native asset, in quote
	// precision (8 decimals).
	NativePrice string `yaml:"nativePrice"`
}

type TokenConfig struct {
	Asset    string `yaml:"asset"`
	Decimals uint8  `yaml:"decimals"`
	Price    string `yaml:"price"`
}

type NotifierConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MetricsAddr:    ":9090",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Bank: BankConfig{
			Admin:              "admin",
			BankCapUSD:         "1000000000000", // 1,000,000 USD in minor units
			WithdrawalLimitUSD: "10000000000",   // 10,000 USD in minor units
			NativeAsset:        "native",
			NativeDecimals:     18,
			NativePrice:        "200000000000", // $2000.00 in quote precision
		},
		Notifier: NotifierConfig{
			Workers:   3,
			QueueSize: 1000,
		},
	}
}

// Load reads the YAML file at path (skipped when empty or missing), merges it
// over the defaults and applies environment overrides last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KIPUBANK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("KIPUBANK_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("KIPUBANK_ADMIN"); v != "" {
		cfg.Bank.Admin = v
	}
	if v := os.Getenv("KIPUBANK_ADMIN_SECRET"); v != "" {
		cfg.Server.AdminSecret = v
	}
	if v := os.Getenv("KIPUBANK_BANK_CAP_USD"); v != "" {
		cfg.Bank.BankCapUSD = v
	}
	if v := os.Getenv("KIPUBANK_WITHDRAWAL_LIMIT_USD"); v != "" {
		cfg.Bank.WithdrawalLimitUSD = v
	}
	if v := os.Getenv("KIPUBANK_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimitRPS = rps
		}
	}
}

func (c Config) validate() error {
	if c.Bank.Admin == "" {
		return fmt.Errorf("bank.admin is required")
	}
	if c.Bank.NativeAsset == "" {
		return fmt.Errorf("bank.nativeAsset is required")
	}
	if c.Bank.NativeDecimals > 18 {
		return fmt.Errorf("bank.nativeDecimals must be <= 18")
	}
	for _, field := range []struct{ name, value string }{
		{"bank.bankCapUsd", c.Bank.BankCapUSD},
		{"bank.withdrawalLimitUsd", c.Bank.WithdrawalLimitUSD},
		{"bank.nativePrice", c.Bank.NativePrice},
	} {
		if _, err := parseBig(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	for _, token := range c.Tokens {
		if token.Asset == "" {
			return fmt.Errorf("tokens[].asset is required")
		}
		if token.Decimals > 18 {
			return fmt.Errorf("token %s: decimals must be <= 18", token.Asset)
		}
		if _, err := parseBig(token.Price); err != nil {
			return fmt.Errorf("token %s price: %w", token.Asset, err)
		}
	}
	return nil
}

// BankCap parses the configured cap into USD minor units.
func (c Config) BankCap() *big.Int { return mustBig(c.Bank.BankCapUSD) }

// WithdrawalLimit parses the configured limit into USD minor units.
func (c Config) WithdrawalLimit() *big.Int { return mustBig(c.Bank.WithdrawalLimitUSD) }

// NativeQuote parses the configured native price (quote precision).
func (c Config) NativeQuote() *big.Int { return mustBig(c.Bank.NativePrice) }

func parseBig(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a base-10 integer", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%q must be non-negative", raw)
	}
	return v, nil
}

// mustBig is safe after validate has run.
func mustBig(raw string) *big.Int {
	v, _ := new(big.Int).SetString(raw, 10)
	return v
}
