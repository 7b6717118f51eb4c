package rebalance

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"invfund/core/events"
	"invfund/native/fixedpoint"
	"invfund/native/pcf"
)

var (
	// ErrNilState is returned when a collaborator has not been wired.
	ErrNilState = errors.New("rebalance: engine state not initialised")
	// ErrStateMismatch is returned when the figures reported by the
	// execution layer do not match the core's own recomputation.
	ErrStateMismatch = errors.New("rebalance: reported state does not match recomputation")
	// ErrInvalidObservation is returned when a reported figure is missing.
	ErrInvalidObservation = errors.New("rebalance: observation incomplete")
)

// Recomputer is the slice of the composition calculator the engine consumes.
type Recomputer interface {
	CalculateDailyPCF(price, lendingFeeRate *big.Int) (*pcf.DailyResult, error)
	CalculateThresholdPCF(price, lendingFeeRate *big.Int) (*pcf.DailyResult, error)
}

// LedgerWriter commits accepted compositions to the accounting ledger.
type LedgerWriter interface {
	SetAccounting(caller [20]byte, now int64, price, cashPerToken, balPerToken, lendingFee *big.Int) error
	SetAccountingForLastActivityDay(caller [20]byte, price, cashPerToken, balPerToken, lendingFee *big.Int) error
}

// Observation carries the post-trade figures reported by the off-core
// execution agent. Every field is cross-checked bit for bit against the
// engine's own recomputation before anything is committed.
type Observation struct {
	EndCashPosition *big.Int
	EndBalance      *big.Int
	TotalSupply     *big.Int
	TotalFeeRate    *big.Int
}

// Engine validates reported rebalance executions and commits the resulting
// fund composition. The engine never trades: the execution agent does, and
// the engine refuses to record anything it cannot reproduce from the ledger.
type Engine struct {
	calc    Recomputer
	ledger  LedgerWriter
	emitter events.Emitter
	nowFn   func() int64
}

func NewEngine(calc Recomputer, ledger LedgerWriter) *Engine {
	return &Engine{
		calc:    calc,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used for rebalance notifications.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.calc == nil || e.ledger == nil {
		return ErrNilState
	}
	return nil
}

func (o *Observation) complete() error {
	if o == nil || o.EndCashPosition == nil || o.EndBalance == nil || o.TotalSupply == nil || o.TotalFeeRate == nil {
		return ErrInvalidObservation
	}
	return nil
}

func crossCheck(computed *pcf.DailyResult, observed *Observation) error {
	if computed.Result.EndCashPosition.Cmp(observed.EndCashPosition) != 0 {
		return fmt.Errorf("%w: end cash position computed %s reported %s",
			ErrStateMismatch, computed.Result.EndCashPosition, observed.EndCashPosition)
	}
	if computed.Result.EndBalance.Cmp(observed.EndBalance) != 0 {
		return fmt.Errorf("%w: end balance computed %s reported %s",
			ErrStateMismatch, computed.Result.EndBalance, observed.EndBalance)
	}
	if computed.TotalSupply.Cmp(observed.TotalSupply) != 0 {
		return fmt.Errorf("%w: total supply computed %s reported %s",
			ErrStateMismatch, computed.TotalSupply, observed.TotalSupply)
	}
	if computed.TotalFeeRate.Cmp(observed.TotalFeeRate) != 0 {
		return fmt.Errorf("%w: total fee rate computed %s reported %s",
			ErrStateMismatch, computed.TotalFeeRate, observed.TotalFeeRate)
	}
	return nil
}

func perToken(result *pcf.DailyResult) (cashPerToken, balPerToken *big.Int, err error) {
	cashPerToken, err = fixedpoint.Wdiv(result.Result.EndCashPosition, result.TotalSupply)
	if err != nil {
		return nil, nil, err
	}
	balPerToken, err = fixedpoint.Wdiv(result.Result.EndBalance, result.TotalSupply)
	if err != nil {
		return nil, nil, err
	}
	return cashPerToken, balPerToken, nil
}

// DailyRebalance verifies a reported end-of-day execution against the
// ledger-derived recomputation (fee accrual over the elapsed days included)
// and commits the accepted composition under the current day, advancing the
// last activity day pointer.
func (e *Engine) DailyRebalance(caller [20]byte, price, lendingFeeRate *big.Int, observed *Observation) (*pcf.DailyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := observed.complete(); err != nil {
		return nil, err
	}
	computed, err := e.calc.CalculateDailyPCF(price, lendingFeeRate)
	if err != nil {
		return nil, err
	}
	if err := crossCheck(computed, observed); err != nil {
		return nil, err
	}
	cashPerToken, balPerToken, err := perToken(computed)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.SetAccounting(caller, e.nowFn(), price, cashPerToken, balPerToken, lendingFeeRate); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.RebalanceCompleted{
		Kind:            "daily",
		Price:           new(big.Int).Set(price),
		CashPerToken:    cashPerToken,
		BalancePerToken: balPerToken,
		LendingFee:      new(big.Int).Set(lendingFeeRate),
	})
	return computed, nil
}

// ThresholdRebalance verifies a reported intraday execution. No fee accrual
// or dead band applies, and the composition is recorded under the existing
// last activity day so the daily cutoff does not move.
func (e *Engine) ThresholdRebalance(caller [20]byte, price, lendingFeeRate *big.Int, observed *Observation) (*pcf.DailyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := observed.complete(); err != nil {
		return nil, err
	}
	computed, err := e.calc.CalculateThresholdPCF(price, lendingFeeRate)
	if err != nil {
		return nil, err
	}
	if err := crossCheck(computed, observed); err != nil {
		return nil, err
	}
	cashPerToken, balPerToken, err := perToken(computed)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.SetAccountingForLastActivityDay(caller, price, cashPerToken, balPerToken, lendingFeeRate); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.RebalanceCompleted{
		Kind:            "threshold",
		Price:           new(big.Int).Set(price),
		CashPerToken:    cashPerToken,
		BalancePerToken: balPerToken,
		LendingFee:      new(big.Int).Set(lendingFeeRate),
	})
	return computed, nil
}
