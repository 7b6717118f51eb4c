package pcf

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"invfund/native/accounting"
	"invfund/native/fixedpoint"
)

var (
	// ErrNegativeNAV is returned when collateral does not exceed the debt value.
	ErrNegativeNAV = errors.New("pcf: cash position must exceed balance times price")
	// ErrZeroPrice is returned when a spot price of zero is supplied.
	ErrZeroPrice = errors.New("pcf: price must be positive")
	// ErrZeroSupply is returned when the token supply is zero.
	ErrZeroSupply = errors.New("pcf: total supply must be positive")
	// ErrFeeExceedsBalance is returned when accrued lending fees exceed the debt.
	ErrFeeExceedsBalance = errors.New("pcf: lending fee exceeds balance")
	// ErrInsufficientSupply is returned when redeeming more tokens than exist.
	ErrInsufficientSupply = errors.New("pcf: token amount exceeds total supply")
	// ErrBelowMinimumTrade is returned when an order is below the trade floor.
	ErrBelowMinimumTrade = errors.New("pcf: order below minimum trade size")
)

// feeDaysDivisor folds the /100 percent conversion and /365 day conversion of
// the annualised lending rate into one truncating division.
var feeDaysDivisor = big.NewInt(36_500)

// NAV computes cashPosition - balance*price and fails when the result would
// not be positive.
func NAV(cashPosition, balance, price *big.Int) (*big.Int, error) {
	debt, err := fixedpoint.Wmul(balance, price)
	if err != nil {
		return nil, err
	}
	if cashPosition == nil || cashPosition.Cmp(debt) <= 0 {
		return nil, ErrNegativeNAV
	}
	return fixedpoint.Sub(cashPosition, debt)
}

// LendingFeeInCrypto accrues the crypto-denominated lending fee over whole
// days: balance * (rate/100/365) * days. The accrual is deliberately linear;
// compounding would change financial outputs.
func LendingFeeInCrypto(rateAnnual, balance *big.Int, days uint64) (*big.Int, error) {
	accrued, err := fixedpoint.Wmul(balance, rateAnnual)
	if err != nil {
		return nil, err
	}
	accrued, err = fixedpoint.Mul(accrued, new(big.Int).SetUint64(days))
	if err != nil {
		return nil, err
	}
	return fixedpoint.Div(accrued, feeDaysDivisor)
}

// NeededChangeInBalance computes the distance between the current debt
// balance and the NAV-implied target. decrease=true means the balance must
// shrink to reach the target.
func NeededChangeInBalance(nav, balance, price *big.Int) (*big.Int, bool, error) {
	if price == nil || price.Sign() == 0 {
		return nil, false, ErrZeroPrice
	}
	target, err := fixedpoint.Wdiv(nav, price)
	if err != nil {
		return nil, false, err
	}
	if target.Cmp(balance) < 0 {
		delta, err := fixedpoint.Sub(balance, target)
		return delta, true, err
	}
	delta, err := fixedpoint.Sub(target, balance)
	return delta, false, err
}

// Result is the end-of-period portfolio composition tuple.
type Result struct {
	EndNAV          *big.Int
	EndBalance      *big.Int
	EndCashPosition *big.Int
	FeeInFiat       *big.Int
	Delta           *big.Int
	DeltaIsNegative bool
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	clone.EndNAV = newBigInt(r.EndNAV)
	clone.EndBalance = newBigInt(r.EndBalance)
	clone.EndCashPosition = newBigInt(r.EndCashPosition)
	clone.FeeInFiat = newBigInt(r.FeeInFiat)
	clone.Delta = newBigInt(r.Delta)
	return &clone
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// CalculatePCF runs the full end-of-period recomputation: accrue the lending
// fee against cash, derive the NAV-implied rebalance delta (truncated to the
// configured precision), suppress deltas inside the dead band, and report the
// resulting cash/balance/NAV tuple.
func CalculatePCF(cashPosition, balance, price, lendingFeeRate *big.Int, days uint64, minRebalanceAmount *big.Int, precision uint8) (*Result, error) {
	feeInCrypto, err := LendingFeeInCrypto(lendingFeeRate, balance, days)
	if err != nil {
		return nil, err
	}
	if feeInCrypto.Cmp(balance) > 0 {
		return nil, ErrFeeExceedsBalance
	}
	feeInFiat, err := fixedpoint.Wmul(feeInCrypto, price)
	if err != nil {
		return nil, err
	}
	cashAfterFee, err := fixedpoint.Sub(cashPosition, feeInFiat)
	if err != nil {
		return nil, err
	}
	nav, err := NAV(cashAfterFee, balance, price)
	if err != nil {
		return nil, err
	}
	delta, decrease, err := NeededChangeInBalance(nav, balance, price)
	if err != nil {
		return nil, err
	}
	delta, err = fixedpoint.TruncateToPrecision(delta, uint(precision))
	if err != nil {
		return nil, err
	}

	// Dead band: economically insignificant moves leave the debt position
	// untouched while the fee still hits cash.
	if minRebalanceAmount != nil && minRebalanceAmount.Sign() > 0 && delta.Cmp(minRebalanceAmount) < 0 {
		endNAV, err := NAV(cashAfterFee, balance, price)
		if err != nil {
			return nil, err
		}
		return &Result{
			EndNAV:          endNAV,
			EndBalance:      newBigInt(balance),
			EndCashPosition: cashAfterFee,
			FeeInFiat:       feeInFiat,
			Delta:           big.NewInt(0),
			DeltaIsNegative: false,
		}, nil
	}

	deltaInFiat, err := fixedpoint.Wmul(delta, price)
	if err != nil {
		return nil, err
	}
	var endBalance, endCash *big.Int
	if decrease {
		if endBalance, err = fixedpoint.Sub(balance, delta); err != nil {
			return nil, err
		}
		if endCash, err = fixedpoint.Sub(cashAfterFee, deltaInFiat); err != nil {
			return nil, err
		}
	} else {
		if endBalance, err = fixedpoint.Add(balance, delta); err != nil {
			return nil, err
		}
		if endCash, err = fixedpoint.Add(cashAfterFee, deltaInFiat); err != nil {
			return nil, err
		}
	}
	endNAV, err := NAV(endCash, endBalance, price)
	if err != nil {
		return nil, err
	}
	return &Result{
		EndNAV:          endNAV,
		EndBalance:      endBalance,
		EndCashPosition: endCash,
		FeeInFiat:       feeInFiat,
		Delta:           delta,
		DeltaIsNegative: decrease,
	}, nil
}

// CalculatePCFWithoutMin recomputes the composition with the dead band
// disabled so every delta is acted on.
func CalculatePCFWithoutMin(cashPosition, balance, price, lendingFeeRate *big.Int, days uint64, precision uint8) (*Result, error) {
	return CalculatePCF(cashPosition, balance, price, lendingFeeRate, days, nil, precision)
}

// TokenAmountCreatedByCash prices a creation through NAV-per-token.
func TokenAmountCreatedByCash(cashPosition, balance, price, totalSupply, cash *big.Int) (*big.Int, error) {
	navPerToken, err := navPerToken(cashPosition, balance, price, totalSupply)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Wdiv(cash, navPerToken)
}

// CashAmountCreatedByToken prices a redemption through NAV-per-token.
func CashAmountCreatedByToken(cashPosition, balance, price, totalSupply, tokenAmount *big.Int) (*big.Int, error) {
	if tokenAmount == nil || totalSupply == nil || tokenAmount.Cmp(totalSupply) > 0 {
		return nil, ErrInsufficientSupply
	}
	navPerToken, err := navPerToken(cashPosition, balance, price, totalSupply)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Wmul(tokenAmount, navPerToken)
}

func navPerToken(cashPosition, balance, price, totalSupply *big.Int) (*big.Int, error) {
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return nil, ErrZeroSupply
	}
	nav, err := NAV(cashPosition, balance, price)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Wdiv(nav, totalSupply)
}

// LedgerReader is the slice of ledger functionality the calculator consumes.
type LedgerReader interface {
	CurrentAccounting() (*accounting.Snapshot, error)
	Config() (*accounting.Config, error)
	DaysSinceLastActivity(now int64) (uint64, error)
}

// SupplySource reports the live token supply.
type SupplySource interface {
	TotalSupply() (*big.Int, error)
}

// Calculator resolves "current" figures by scaling the ledger's per-token
// values with the live token supply before delegating to the pure functions.
type Calculator struct {
	ledger LedgerReader
	supply SupplySource
	nowFn  func() int64
}

// NewCalculator constructs a calculator over the supplied ledger and supply.
func NewCalculator(ledger LedgerReader, supply SupplySource) *Calculator {
	return &Calculator{
		ledger: ledger,
		supply: supply,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source for deterministic testing.
func (c *Calculator) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

type positions struct {
	cashPosition *big.Int
	balance      *big.Int
	price        *big.Int
	supply       *big.Int
}

func (c *Calculator) currentPositions() (*positions, error) {
	supply, err := c.supply.TotalSupply()
	if err != nil {
		return nil, err
	}
	if supply == nil || supply.Sign() == 0 {
		return nil, ErrZeroSupply
	}
	snapshot, err := c.ledger.CurrentAccounting()
	if err != nil {
		return nil, err
	}
	cashPosition, err := fixedpoint.Wmul(snapshot.CashPerToken, supply)
	if err != nil {
		return nil, err
	}
	balance, err := fixedpoint.Wmul(snapshot.BalancePerToken, supply)
	if err != nil {
		return nil, err
	}
	return &positions{
		cashPosition: cashPosition,
		balance:      balance,
		price:        snapshot.Price,
		supply:       supply,
	}, nil
}

// CurrentNAV values the fund at the latest recorded accounting.
func (c *Calculator) CurrentNAV() (*big.Int, error) {
	pos, err := c.currentPositions()
	if err != nil {
		return nil, err
	}
	return NAV(pos.cashPosition, pos.balance, pos.price)
}

// CurrentTokenAmountCreatedByCash computes the tokens minted for a cash
// deposit at the supplied execution price: the gas fee is netted out, the
// minting fee (keyed by the gross amount, floored at the configured minimum)
// is removed, and the remainder is divided by NAV-per-token.
func (c *Calculator) CurrentTokenAmountCreatedByCash(cash, execPrice, gasFee *big.Int) (*big.Int, error) {
	if execPrice == nil || execPrice.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	pos, err := c.currentPositions()
	if err != nil {
		return nil, err
	}
	cfg, err := c.ledger.Config()
	if err != nil {
		return nil, err
	}
	if cfg.MinimumTrade != nil && cash != nil && cash.Cmp(cfg.MinimumTrade) < 0 {
		return nil, ErrBelowMinimumTrade
	}
	net, err := fixedpoint.Sub(cash, gasFee)
	if err != nil {
		return nil, err
	}
	cashAfterFee, err := removeMintingFee(net, cash, cfg)
	if err != nil {
		return nil, err
	}
	return TokenAmountCreatedByCash(pos.cashPosition, pos.balance, execPrice, pos.supply, cashAfterFee)
}

// CurrentCashAmountCreatedByToken computes the cash proceeds of a redemption
// at the supplied execution price, net of the minting fee and gas fee.
func (c *Calculator) CurrentCashAmountCreatedByToken(tokenAmount, execPrice, gasFee *big.Int) (*big.Int, error) {
	if execPrice == nil || execPrice.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	pos, err := c.currentPositions()
	if err != nil {
		return nil, err
	}
	cash, err := CashAmountCreatedByToken(pos.cashPosition, pos.balance, execPrice, pos.supply, tokenAmount)
	if err != nil {
		return nil, err
	}
	cfg, err := c.ledger.Config()
	if err != nil {
		return nil, err
	}
	if cfg.MinimumTrade != nil && cash.Cmp(cfg.MinimumTrade) < 0 {
		return nil, ErrBelowMinimumTrade
	}
	afterFee, err := removeMintingFee(cash, cash, cfg)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Sub(afterFee, gasFee)
}

func removeMintingFee(amount, gross *big.Int, cfg *accounting.Config) (*big.Int, error) {
	rate := cfg.Schedule.Fee(gross)
	fee, err := fixedpoint.Wmul(amount, rate)
	if err != nil {
		return nil, err
	}
	if cfg.MinimumMintingFee != nil && fee.Cmp(cfg.MinimumMintingFee) < 0 {
		fee = new(big.Int).Set(cfg.MinimumMintingFee)
	}
	return fixedpoint.Sub(amount, fee)
}

// DailyResult augments the composition tuple with the inputs a rebalance
// orchestrator cross-checks.
type DailyResult struct {
	Result       *Result
	TotalSupply  *big.Int
	TotalFeeRate *big.Int
	Days         uint64
}

// CalculateDailyPCF recomputes the composition for a daily rebalance: ledger
// per-token figures scaled by supply, fee accrual over the days since the
// last activity day at the combined lending plus management rate.
func (c *Calculator) CalculateDailyPCF(price, lendingFeeRate *big.Int) (*DailyResult, error) {
	if price == nil || price.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	pos, err := c.currentPositions()
	if err != nil {
		return nil, err
	}
	cfg, err := c.ledger.Config()
	if err != nil {
		return nil, err
	}
	days, err := c.ledger.DaysSinceLastActivity(c.nowFn())
	if err != nil {
		return nil, err
	}
	totalRate, err := fixedpoint.Add(lendingFeeRate, cfg.ManagementFee)
	if err != nil {
		return nil, err
	}
	result, err := CalculatePCF(pos.cashPosition, pos.balance, price, totalRate, days, cfg.MinRebalanceAmount, cfg.BalancePrecision)
	if err != nil {
		return nil, fmt.Errorf("pcf: daily recomputation: %w", err)
	}
	return &DailyResult{
		Result:       result,
		TotalSupply:  pos.supply,
		TotalFeeRate: totalRate,
		Days:         days,
	}, nil
}

// CalculateThresholdPCF recomputes the composition for an intraday threshold
// rebalance: no additional fee accrual and no dead band, since the trigger
// already implies an economically significant move.
func (c *Calculator) CalculateThresholdPCF(price, lendingFeeRate *big.Int) (*DailyResult, error) {
	if price == nil || price.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	pos, err := c.currentPositions()
	if err != nil {
		return nil, err
	}
	cfg, err := c.ledger.Config()
	if err != nil {
		return nil, err
	}
	totalRate, err := fixedpoint.Add(lendingFeeRate, cfg.ManagementFee)
	if err != nil {
		return nil, err
	}
	result, err := CalculatePCFWithoutMin(pos.cashPosition, pos.balance, price, totalRate, 0, cfg.BalancePrecision)
	if err != nil {
		return nil, fmt.Errorf("pcf: threshold recomputation: %w", err)
	}
	return &DailyResult{
		Result:       result,
		TotalSupply:  pos.supply,
		TotalFeeRate: totalRate,
		Days:         0,
	}, nil
}
