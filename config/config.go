package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// RateSetting is an exact rational rate as configured.
type RateSetting struct {
	Numerator   uint64 `toml:"Numerator"`
	Denominator uint64 `toml:"Denominator"`
}

// MarketSetting configures one collateral market.
type MarketSetting struct {
	Asset                string      `toml:"Asset"`
	Symbol               string      `toml:"Symbol"`
	Decimals             uint8       `toml:"Decimals"`
	CreditLimitRate      RateSetting `toml:"CreditLimitRate"`
	LiquidationLimitRate RateSetting `toml:"LiquidationLimitRate"`
	InterestApr          RateSetting `toml:"InterestApr"`
	OrgFeeRate           RateSetting `toml:"OrgFeeRate"`
	LiquidationPenalty   RateSetting `toml:"LiquidationPenalty"`
	BorrowCap            string      `toml:"BorrowCap"`
}

type Config struct {
	ListenAddress       string          `toml:"ListenAddress"`
	DataDir             string          `toml:"DataDir"`
	Environment         string          `toml:"Environment"`
	SlippageBps         uint64          `toml:"SlippageBps"`
	ScanIntervalSeconds int             `toml:"ScanIntervalSeconds"`
	ScanLimit           int             `toml:"ScanLimit"`
	Keepers             []string        `toml:"Keepers"`
	DefaultRates        MarketSetting   `toml:"DefaultRates"`
	Markets             []MarketSetting `toml:"Markets"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./airlend-data"
	}
	if cfg.ScanIntervalSeconds <= 0 {
		cfg.ScanIntervalSeconds = 30
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 100
	}
	if cfg.Keepers == nil {
		cfg.Keepers = []string{}
	}
	applyRateDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRateDefaults fills any zero rate on a market entry from DefaultRates,
// so a deployment can configure global rates once and list assets plainly.
func applyRateDefaults(cfg *Config) {
	defaults := cfg.DefaultRates
	for i := range cfg.Markets {
		m := &cfg.Markets[i]
		if m.CreditLimitRate.Denominator == 0 {
			m.CreditLimitRate = defaults.CreditLimitRate
		}
		if m.LiquidationLimitRate.Denominator == 0 {
			m.LiquidationLimitRate = defaults.LiquidationLimitRate
		}
		if m.InterestApr.Denominator == 0 {
			m.InterestApr = defaults.InterestApr
		}
		if m.OrgFeeRate.Denominator == 0 {
			m.OrgFeeRate = defaults.OrgFeeRate
		}
		if m.LiquidationPenalty.Denominator == 0 {
			m.LiquidationPenalty = defaults.LiquidationPenalty
		}
	}
}

func validate(cfg *Config) error {
	if cfg.SlippageBps > 10_000 {
		return fmt.Errorf("config: SlippageBps %d exceeds 10000", cfg.SlippageBps)
	}
	for _, m := range cfg.Markets {
		if strings.TrimSpace(m.Asset) == "" {
			return fmt.Errorf("config: market entry %q missing Asset", m.Symbol)
		}
		for name, rate := range map[string]RateSetting{
			"CreditLimitRate":      m.CreditLimitRate,
			"LiquidationLimitRate": m.LiquidationLimitRate,
			"InterestApr":          m.InterestApr,
			"OrgFeeRate":           m.OrgFeeRate,
			"LiquidationPenalty":   m.LiquidationPenalty,
		} {
			if rate.Denominator == 0 {
				return fmt.Errorf("config: market %s: %s has zero denominator", m.Symbol, name)
			}
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:       ":8080",
		DataDir:             "./airlend-data",
		Environment:         "local",
		SlippageBps:         200,
		ScanIntervalSeconds: 30,
		ScanLimit:           100,
		Keepers:             []string{},
		DefaultRates: MarketSetting{
			CreditLimitRate:      RateSetting{Numerator: 70, Denominator: 100},
			LiquidationLimitRate: RateSetting{Numerator: 75, Denominator: 100},
			InterestApr:          RateSetting{Numerator: 10, Denominator: 1000},
			OrgFeeRate:           RateSetting{Numerator: 3, Denominator: 1000},
			LiquidationPenalty:   RateSetting{Numerator: 50, Denominator: 1000},
		},
		Markets: []MarketSetting{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
