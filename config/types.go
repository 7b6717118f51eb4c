package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"invfund/native/accounting"
	"invfund/native/fees"
)

// FundParams represents the parsed runtime form of the fund section.
type FundParams struct {
	Orchestrator [20]byte
	Pool         [20]byte
	Accounting   *accounting.Config
	Assets       map[string]uint8
	Whitelist    [][20]byte
	Genesis      *GenesisParams
}

// GenesisParams is the parsed form of the optional genesis section.
type GenesisParams struct {
	Price           *big.Int
	CashPerToken    *big.Int
	BalancePerToken *big.Int
	LendingFee      *big.Int
	InitialSupply   *big.Int
	InitialHolder   [20]byte
}

// Params parses the configured fund section into runtime values.
func (f FundConfig) Params() (*FundParams, error) {
	params := &FundParams{}

	orchestrator, err := parseAddress(f.OrchestratorAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.OrchestratorAddress: %w", err)
	}
	params.Orchestrator = orchestrator

	pool, err := parseAddress(f.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.PoolAddress: %w", err)
	}
	params.Pool = pool

	minRebalance, err := parseUintAmount(f.MinRebalanceAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.MinRebalanceAmount: %w", err)
	}
	managementFee, err := parseUintAmount(f.ManagementFee)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.ManagementFee: %w", err)
	}
	minimumMintingFee, err := parseUintAmount(f.MinimumMintingFee)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.MinimumMintingFee: %w", err)
	}
	minimumTrade, err := parseUintAmount(f.MinimumTrade)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.MinimumTrade: %w", err)
	}
	defaultRate, err := parseUintAmount(f.DefaultFeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.DefaultFeeRate: %w", err)
	}

	brackets := make([]fees.Bracket, 0, len(f.FeeBrackets))
	for i, bracket := range f.FeeBrackets {
		threshold, err := parseUintAmount(bracket.Threshold)
		if err != nil {
			return nil, fmt.Errorf("invalid fund.FeeBrackets[%d].Threshold: %w", i, err)
		}
		rate, err := parseUintAmount(bracket.Rate)
		if err != nil {
			return nil, fmt.Errorf("invalid fund.FeeBrackets[%d].Rate: %w", i, err)
		}
		brackets = append(brackets, fees.Bracket{Threshold: threshold, Rate: rate})
	}
	schedule, err := fees.FromBrackets(brackets, defaultRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fund.FeeBrackets: %w", err)
	}

	params.Accounting = &accounting.Config{
		MinRebalanceAmount: minRebalance,
		ManagementFee:      managementFee,
		MinimumMintingFee:  minimumMintingFee,
		MinimumTrade:       minimumTrade,
		BalancePrecision:   f.BalancePrecision,
		Schedule:           schedule,
	}

	params.Assets = make(map[string]uint8, len(f.Assets))
	for asset, decimals := range f.Assets {
		ticker := strings.ToUpper(strings.TrimSpace(asset))
		if ticker == "" || decimals > 18 {
			return nil, fmt.Errorf("invalid fund.Assets entry %q", asset)
		}
		params.Assets[ticker] = decimals
	}

	for i, entry := range f.Whitelist {
		addr, err := parseAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid fund.Whitelist[%d]: %w", i, err)
		}
		params.Whitelist = append(params.Whitelist, addr)
	}

	if f.Genesis != nil {
		genesis, err := f.Genesis.parse()
		if err != nil {
			return nil, err
		}
		params.Genesis = genesis
	}
	return params, nil
}

func (g GenesisConfig) parse() (*GenesisParams, error) {
	out := &GenesisParams{}
	var err error
	if out.Price, err = parseUintAmount(g.Price); err != nil {
		return nil, fmt.Errorf("invalid fund.Genesis.Price: %w", err)
	}
	if out.CashPerToken, err = parseUintAmount(g.CashPerToken); err != nil {
		return nil, fmt.Errorf("invalid fund.Genesis.CashPerToken: %w", err)
	}
	if out.BalancePerToken, err = parseUintAmount(g.BalancePerToken); err != nil {
		return nil, fmt.Errorf("invalid fund.Genesis.BalancePerToken: %w", err)
	}
	if out.LendingFee, err = parseUintAmount(g.LendingFee); err != nil {
		return nil, fmt.Errorf("invalid fund.Genesis.LendingFee: %w", err)
	}
	if out.InitialSupply, err = parseUintAmount(g.InitialSupply); err != nil {
		return nil, fmt.Errorf("invalid fund.Genesis.InitialSupply: %w", err)
	}
	if strings.TrimSpace(g.InitialHolder) != "" {
		holder, err := parseAddress(g.InitialHolder)
		if err != nil {
			return nil, fmt.Errorf("invalid fund.Genesis.InitialHolder: %w", err)
		}
		out.InitialHolder = holder
	}
	return out, nil
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, err
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("expected 20 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// parseUintAmount parses a non-negative decimal amount. The "1250e16"
// shorthand is accepted so 1e18 fixed-point values stay readable.
func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}

	mantissa := trimmed
	exponent := 0
	if idx := strings.IndexAny(trimmed, "eE"); idx >= 0 {
		parsed, err := strconv.Atoi(trimmed[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("malformed exponent in %q", value)
		}
		mantissa = trimmed[:idx]
		exponent = parsed
	}

	fraction := ""
	if idx := strings.Index(mantissa, "."); idx >= 0 {
		fraction = mantissa[idx+1:]
		mantissa = mantissa[:idx] + fraction
		exponent -= len(fraction)
	}
	if exponent < 0 {
		return nil, fmt.Errorf("amount %q is not an integer", value)
	}

	out, ok := new(big.Int).SetString(mantissa, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", value)
	}
	return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exponent)), nil)), nil
}
