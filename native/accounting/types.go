package accounting

import (
	"fmt"
	"math/big"
	"strings"

	"invfund/native/fees"
)

// Snapshot is one accounting entry for a calendar day. Several snapshots may
// exist for the same day; the last appended entry is authoritative.
type Snapshot struct {
	Day             uint32 // YYYYMMDD
	Price           *big.Int
	CashPerToken    *big.Int
	BalancePerToken *big.Int
	LendingFee      *big.Int // annualised rate, wad-scaled percent
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Price = newBigInt(s.Price)
	clone.CashPerToken = newBigInt(s.CashPerToken)
	clone.BalancePerToken = newBigInt(s.BalancePerToken)
	clone.LendingFee = newBigInt(s.LendingFee)
	return &clone
}

type storedSnapshot struct {
	Day             uint32
	Price           string
	CashPerToken    string
	BalancePerToken string
	LendingFee      string
}

func toStoredSnapshot(s *Snapshot) storedSnapshot {
	return storedSnapshot{
		Day:             s.Day,
		Price:           amountToString(s.Price),
		CashPerToken:    amountToString(s.CashPerToken),
		BalancePerToken: amountToString(s.BalancePerToken),
		LendingFee:      amountToString(s.LendingFee),
	}
}

func fromStoredSnapshot(stored storedSnapshot) (*Snapshot, error) {
	price, err := amountFromString(stored.Price)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid price: %w", err)
	}
	cash, err := amountFromString(stored.CashPerToken)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid cash per token: %w", err)
	}
	balance, err := amountFromString(stored.BalancePerToken)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid balance per token: %w", err)
	}
	lendingFee, err := amountFromString(stored.LendingFee)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid lending fee: %w", err)
	}
	return &Snapshot{
		Day:             stored.Day,
		Price:           price,
		CashPerToken:    cash,
		BalancePerToken: balance,
		LendingFee:      lendingFee,
	}, nil
}

// Config carries the fund parameters owned by the ledger. All rates and
// amounts are wad-scaled.
type Config struct {
	MinRebalanceAmount *big.Int
	ManagementFee      *big.Int // annualised rate added to the lending fee on rebalance
	MinimumMintingFee  *big.Int
	MinimumTrade       *big.Int
	BalancePrecision   uint8
	Schedule           *fees.Schedule
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinRebalanceAmount = newBigInt(c.MinRebalanceAmount)
	clone.ManagementFee = newBigInt(c.ManagementFee)
	clone.MinimumMintingFee = newBigInt(c.MinimumMintingFee)
	clone.MinimumTrade = newBigInt(c.MinimumTrade)
	clone.Schedule = c.Schedule.Clone()
	return &clone
}

type storedConfig struct {
	MinRebalanceAmount string
	ManagementFee      string
	MinimumMintingFee  string
	MinimumTrade       string
	BalancePrecision   uint8
	FeeThresholds      []string
	FeeRates           []string
	FeeDefaultRate     string
}

func toStoredConfig(c *Config) storedConfig {
	stored := storedConfig{
		MinRebalanceAmount: amountToString(c.MinRebalanceAmount),
		ManagementFee:      amountToString(c.ManagementFee),
		MinimumMintingFee:  amountToString(c.MinimumMintingFee),
		MinimumTrade:       amountToString(c.MinimumTrade),
		BalancePrecision:   c.BalancePrecision,
	}
	if c.Schedule != nil {
		for _, bracket := range c.Schedule.Brackets() {
			stored.FeeThresholds = append(stored.FeeThresholds, amountToString(bracket.Threshold))
			stored.FeeRates = append(stored.FeeRates, amountToString(bracket.Rate))
		}
		stored.FeeDefaultRate = amountToString(c.Schedule.DefaultRate())
	}
	return stored
}

func fromStoredConfig(stored storedConfig) (*Config, error) {
	minRebalance, err := amountFromString(stored.MinRebalanceAmount)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid min rebalance amount: %w", err)
	}
	managementFee, err := amountFromString(stored.ManagementFee)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid management fee: %w", err)
	}
	minMintingFee, err := amountFromString(stored.MinimumMintingFee)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid minimum minting fee: %w", err)
	}
	minTrade, err := amountFromString(stored.MinimumTrade)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid minimum trade: %w", err)
	}
	if len(stored.FeeThresholds) != len(stored.FeeRates) {
		return nil, fmt.Errorf("accounting: fee bracket arrays out of sync")
	}
	brackets := make([]fees.Bracket, 0, len(stored.FeeThresholds))
	for i := range stored.FeeThresholds {
		threshold, err := amountFromString(stored.FeeThresholds[i])
		if err != nil {
			return nil, fmt.Errorf("accounting: invalid fee threshold: %w", err)
		}
		feeRate, err := amountFromString(stored.FeeRates[i])
		if err != nil {
			return nil, fmt.Errorf("accounting: invalid fee rate: %w", err)
		}
		brackets = append(brackets, fees.Bracket{Threshold: threshold, Rate: feeRate})
	}
	defaultRate, err := amountFromString(stored.FeeDefaultRate)
	if err != nil {
		return nil, fmt.Errorf("accounting: invalid default fee rate: %w", err)
	}
	schedule, err := fees.FromBrackets(brackets, defaultRate)
	if err != nil {
		return nil, err
	}
	return &Config{
		MinRebalanceAmount: minRebalance,
		ManagementFee:      managementFee,
		MinimumMintingFee:  minMintingFee,
		MinimumTrade:       minTrade,
		BalancePrecision:   stored.BalancePrecision,
		Schedule:           schedule,
	}, nil
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func amountToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func amountFromString(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}
