package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadParsesFundSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "./data"
Backend = "bolt"
LogLevel = "debug"
APITokenEnv = "FUND_API_TOKEN"
RateLimitPerSecond = 10.0
RateLimitBurst = 20

[fund]
OrchestratorAddress = "0x0000000000000000000000000000000000000007"
PoolAddress = "0x00000000000000000000000000000000000000aa"
MinRebalanceAmount = "1e18"
ManagementFee = "2e18"
MinimumMintingFee = "5e17"
MinimumTrade = "100e18"
BalancePrecision = 8
DefaultFeeRate = "1e16"

[[fund.FeeBrackets]]
Threshold = "10000e18"
Rate = "5e15"

[[fund.FeeBrackets]]
Threshold = "100000e18"
Rate = "75e14"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Backend != "bolt" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected node settings: %+v", cfg)
	}
	if cfg.RateLimitPerSecond != 10.0 || cfg.RateLimitBurst != 20 {
		t.Fatalf("unexpected rate limits: %f/%d", cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}
	if cfg.APITokenEnv != "FUND_API_TOKEN" {
		t.Fatalf("unexpected token env: %s", cfg.APITokenEnv)
	}

	params, err := cfg.Fund.Params()
	if err != nil {
		t.Fatalf("parse fund params: %v", err)
	}
	if params.Orchestrator[19] != 0x07 || params.Pool[19] != 0xaa {
		t.Fatalf("unexpected addresses: %x %x", params.Orchestrator, params.Pool)
	}
	wad, _ := new(big.Int).SetString("1000000000000000000", 10)
	if params.Accounting.MinRebalanceAmount.Cmp(wad) != 0 {
		t.Fatalf("unexpected min rebalance: %s", params.Accounting.MinRebalanceAmount)
	}
	if params.Accounting.BalancePrecision != 8 {
		t.Fatalf("unexpected precision: %d", params.Accounting.BalancePrecision)
	}
	brackets := params.Accounting.Schedule.Brackets()
	if len(brackets) != 2 {
		t.Fatalf("unexpected bracket count: %d", len(brackets))
	}
	smallTrade, _ := new(big.Int).SetString("5000000000000000000000", 10) // 5000e18
	wantRate, _ := new(big.Int).SetString("5000000000000000", 10)        // 5e15
	if params.Accounting.Schedule.Fee(smallTrade).Cmp(wantRate) != 0 {
		t.Fatalf("unexpected bracket rate: %s", params.Accounting.Schedule.Fee(smallTrade))
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	// The listen address belongs to the service config, so it is an unknown
	// key here like any other.
	contents := `ListenAddress = ":8661"
NotARealSetting = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected unknown key rejection")
	}
	for _, key := range []string{"NotARealSetting", "ListenAddress"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got: %v", key, err)
		}
	}
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Backend != "leveldb" || cfg.DataDir != "./fund-data" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}

	// A second load round-trips the persisted defaults.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.Backend != cfg.Backend || reloaded.DataDir != cfg.DataDir {
		t.Fatalf("defaults drifted on reload: %+v", reloaded)
	}
}

func TestValidateConfigRejectsBadBackend(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Backend = "cassandra"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected backend rejection")
	}
}

func TestParseUintAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"", "0"},
		{"1250", "1250"},
		{"5000e18", "5000000000000000000000"},
		{"1.25e3", "1250"},
	}
	for _, tc := range cases {
		got, err := parseUintAmount(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		want, _ := new(big.Int).SetString(tc.want, 10)
		if got.Cmp(want) != 0 {
			t.Fatalf("parse %q: got %s want %s", tc.in, got, want)
		}
	}

	for _, bad := range []string{"-1", "abc", "1.5", "1e-3"} {
		if _, err := parseUintAmount(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
