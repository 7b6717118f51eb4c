package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FeeBracket mirrors one tier of the minting fee schedule in its on-disk
// form. Amounts are decimal strings in 1e18 fixed point and accept the
// "5000e18" shorthand.
type FeeBracket struct {
	Threshold string `toml:"Threshold"`
	Rate      string `toml:"Rate"`
}

// GenesisConfig seeds the very first accounting snapshot and token supply
// when the ledger is empty. Amounts are 1e18 fixed-point strings.
type GenesisConfig struct {
	Price           string `toml:"Price"`
	CashPerToken    string `toml:"CashPerToken"`
	BalancePerToken string `toml:"BalancePerToken"`
	LendingFee      string `toml:"LendingFee"`
	InitialSupply   string `toml:"InitialSupply"`
	InitialHolder   string `toml:"InitialHolder"`
}

// FundConfig carries the fund parameters pushed into the accounting ledger
// at startup.
type FundConfig struct {
	OrchestratorAddress string           `toml:"OrchestratorAddress"`
	PoolAddress         string           `toml:"PoolAddress"`
	MinRebalanceAmount  string           `toml:"MinRebalanceAmount"`
	ManagementFee       string           `toml:"ManagementFee"`
	MinimumMintingFee   string           `toml:"MinimumMintingFee"`
	MinimumTrade        string           `toml:"MinimumTrade"`
	BalancePrecision    uint8            `toml:"BalancePrecision"`
	DefaultFeeRate      string           `toml:"DefaultFeeRate"`
	FeeBrackets         []FeeBracket     `toml:"FeeBrackets,omitempty"`
	Assets              map[string]uint8 `toml:"Assets,omitempty"`
	Whitelist           []string         `toml:"Whitelist,omitempty"`
	Genesis             *GenesisConfig   `toml:"Genesis,omitempty"`
}

// Config holds the node-side settings. The HTTP listen address lives in the
// fundd service configuration, not here.
type Config struct {
	DataDir            string  `toml:"DataDir"`
	Backend            string  `toml:"Backend"`
	LogLevel           string  `toml:"LogLevel"`
	LogFile            string  `toml:"LogFile"`
	APITokenEnv        string  `toml:"APITokenEnv"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	Fund FundConfig `toml:"fund"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./fund-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 25
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}
	if strings.TrimSpace(cfg.Fund.DefaultFeeRate) == "" {
		cfg.Fund.DefaultFeeRate = "0"
	}
	if cfg.Fund.BalancePrecision == 0 {
		cfg.Fund.BalancePrecision = 18
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Fund = FundConfig{
		MinRebalanceAmount: "0",
		ManagementFee:      "0",
		MinimumMintingFee:  "0",
		MinimumTrade:       "0",
		BalancePrecision:   18,
		DefaultFeeRate:     "0",
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
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
