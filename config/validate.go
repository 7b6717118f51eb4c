package config

import "fmt"

var supportedBackends = map[string]bool{
	"memory":  true,
	"leveldb": true,
	"bolt":    true,
}

func ValidateConfig(cfg *Config) error {
	if !supportedBackends[cfg.Backend] {
		return fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if cfg.Fund.BalancePrecision > 18 {
		return fmt.Errorf("fund: BalancePrecision > 18")
	}
	if cfg.RateLimitPerSecond <= 0 || cfg.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}
