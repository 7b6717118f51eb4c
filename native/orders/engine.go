package orders

import (
	"errors"
	"math/big"
	"time"

	"invfund/core/events"
)

var (
	// ErrNilState is returned when the engine collaborators are missing.
	ErrNilState = errors.New("orders: engine not configured")
	// ErrUnauthorized is returned when the user is not whitelisted.
	ErrUnauthorized = errors.New("orders: user not whitelisted")
	// ErrPriceMismatch is returned when the reported token or cash amount does
	// not exactly match the core's own recomputation.
	ErrPriceMismatch = errors.New("orders: reported amount does not match recomputation")
	// ErrInsufficientLiquidity is returned when a delayed settlement cannot be
	// covered by the hot wallet.
	ErrInsufficientLiquidity = errors.New("orders: insufficient hot wallet liquidity")
	// ErrExceedsDelayedBalance is returned when settling more than is owed.
	ErrExceedsDelayedBalance = errors.New("orders: amount exceeds delayed balance")
	// ErrInvalidAmount is returned when an order amount is nil or not positive.
	ErrInvalidAmount = errors.New("orders: amount must be positive")
	// ErrUnsupportedDecimals is returned for stablecoins above 18 decimals.
	ErrUnsupportedDecimals = errors.New("orders: stablecoin decimals exceed internal scale")
)

// Identity is the whitelist collaborator consulted before any order work.
type Identity interface {
	IsWhitelisted(user [20]byte) bool
}

// Token is the inverse token collaborator used for mint/burn bookkeeping.
type Token interface {
	Mint(to [20]byte, amount *big.Int) error
	Burn(from [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
	TotalSupply() (*big.Int, error)
}

// CustodyPool is the hot wallet collaborator holding stablecoin liquidity.
// Amounts cross this boundary in the asset's native decimal scale.
type CustodyPool interface {
	Balance(asset string) (*big.Int, error)
	Transfer(asset string, to [20]byte, amount *big.Int) error
	Decimals(asset string) (uint8, error)
}

// Pricer is the PCF calculator surface the order processor prices through.
type Pricer interface {
	CurrentTokenAmountCreatedByCash(cash, execPrice, gasFee *big.Int) (*big.Int, error)
	CurrentCashAmountCreatedByToken(tokenAmount, execPrice, gasFee *big.Int) (*big.Int, error)
}

// Engine validates creation and redemption orders, applies fees through the
// calculator, and decides between immediate and deferred settlement.
type Engine struct {
	journal  *Journal
	identity Identity
	token    Token
	pool     CustodyPool
	pricer   Pricer
	emitter  events.Emitter
	nowFn    func() int64
	poolAddr [20]byte
}

// NewEngine constructs an order engine with default dependencies.
func NewEngine(journal *Journal) *Engine {
	return &Engine{
		journal: journal,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetIdentity configures the whitelist verifier.
func (e *Engine) SetIdentity(identity Identity) { e.identity = identity }

// SetToken configures the inverse token collaborator.
func (e *Engine) SetToken(token Token) { e.token = token }

// SetCustodyPool configures the hot wallet collaborator.
func (e *Engine) SetCustodyPool(pool CustodyPool) { e.pool = pool }

// SetPricer configures the PCF calculator surface.
func (e *Engine) SetPricer(pricer Pricer) { e.pricer = pricer }

// SetPoolAddress configures the address holding pooled inverse tokens.
func (e *Engine) SetPoolAddress(addr [20]byte) { e.poolAddr = addr }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.journal == nil || e.identity == nil || e.token == nil || e.pool == nil || e.pricer == nil {
		return ErrNilState
	}
	return nil
}

// NormalizeToAsset converts an internal 18-decimal amount to the asset's
// native decimal scale, truncating toward zero.
func NormalizeToAsset(value *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > 18 {
		return nil, ErrUnsupportedDecimals
	}
	if value == nil {
		return big.NewInt(0), nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
	return new(big.Int).Quo(value, unit), nil
}

// DenormalizeFromAsset converts a native-decimal amount back to the internal
// 18-decimal scale.
func DenormalizeFromAsset(value *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > 18 {
		return nil, ErrUnsupportedDecimals
	}
	if value == nil {
		return big.NewInt(0), nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
	return new(big.Int).Mul(value, unit), nil
}

func (e *Engine) record(order *Order) (*Order, error) {
	order.CreatedAt = e.nowFn()
	if _, err := e.journal.Append(order); err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// CreateOrder processes a creation reported by the off-core execution layer.
// When the upstream execution failed the stablecoin input is refunded and the
// order is recorded as reversed; otherwise the reported token amount must
// exactly match the core's own recomputation before tokens are minted.
func (e *Engine) CreateOrder(success bool, tokensGiven, tokensReceivedClaim, feeAvg, execPrice *big.Int, user [20]byte, stablecoin string, gasFee *big.Int) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.identity.IsWhitelisted(user) {
		return nil, ErrUnauthorized
	}
	if tokensGiven == nil || tokensGiven.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !success {
		decimals, err := e.pool.Decimals(stablecoin)
		if err != nil {
			return nil, err
		}
		refund, err := NormalizeToAsset(tokensGiven, decimals)
		if err != nil {
			return nil, err
		}
		if err := e.pool.Transfer(stablecoin, user, refund); err != nil {
			return nil, err
		}
		return e.record(&Order{
			Type:           OrderTypeCreate,
			Status:         StatusReversed,
			User:           user,
			TokensGiven:    newBigInt(tokensGiven),
			TokensReceived: big.NewInt(0),
			AvgBlendedFee:  newBigInt(feeAvg),
			Stablecoin:     stablecoin,
		})
	}

	expected, err := e.pricer.CurrentTokenAmountCreatedByCash(tokensGiven, execPrice, gasFee)
	if err != nil {
		return nil, err
	}
	if tokensReceivedClaim == nil || expected.Cmp(tokensReceivedClaim) != 0 {
		return nil, ErrPriceMismatch
	}
	order, err := e.record(&Order{
		Type:           OrderTypeCreate,
		Status:         StatusSuccess,
		User:           user,
		TokensGiven:    newBigInt(tokensGiven),
		TokensReceived: newBigInt(tokensReceivedClaim),
		AvgBlendedFee:  newBigInt(feeAvg),
		Stablecoin:     stablecoin,
	})
	if err != nil {
		return nil, err
	}
	if err := e.token.Mint(user, tokensReceivedClaim); err != nil {
		return nil, err
	}
	e.emit(events.OrderCompleted{
		OrderType:      order.Type.String(),
		User:           user,
		TokensGiven:    newBigInt(tokensGiven),
		TokensReceived: newBigInt(tokensReceivedClaim),
		Asset:          stablecoin,
	})
	return order, nil
}

// RedeemOrder processes a redemption reported by the off-core execution
// layer. Insufficient hot-wallet liquidity is not an error: the payout is
// parked as a delayed redemption and the order marked accordingly. The pooled
// inverse tokens are burned regardless of the settlement outcome.
func (e *Engine) RedeemOrder(success bool, tokensGiven, tokensReceivedClaim, feeAvg, execPrice *big.Int, user [20]byte, stablecoin string, gasFee *big.Int) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.identity.IsWhitelisted(user) {
		return nil, ErrUnauthorized
	}
	if tokensGiven == nil || tokensGiven.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !success {
		// The refund is the pooled inverse token, not the stablecoin.
		if err := e.token.Transfer(e.poolAddr, user, tokensGiven); err != nil {
			return nil, err
		}
		return e.record(&Order{
			Type:           OrderTypeRedeem,
			Status:         StatusReversed,
			User:           user,
			TokensGiven:    newBigInt(tokensGiven),
			TokensReceived: big.NewInt(0),
			AvgBlendedFee:  newBigInt(feeAvg),
			Stablecoin:     stablecoin,
		})
	}

	expected, err := e.pricer.CurrentCashAmountCreatedByToken(tokensGiven, execPrice, gasFee)
	if err != nil {
		return nil, err
	}
	if tokensReceivedClaim == nil || expected.Cmp(tokensReceivedClaim) != 0 {
		return nil, ErrPriceMismatch
	}

	decimals, err := e.pool.Decimals(stablecoin)
	if err != nil {
		return nil, err
	}
	payout, err := NormalizeToAsset(tokensReceivedClaim, decimals)
	if err != nil {
		return nil, err
	}
	poolBalance, err := e.pool.Balance(stablecoin)
	if err != nil {
		return nil, err
	}

	orderType := OrderTypeRedeem
	status := StatusSettled
	if poolBalance.Cmp(payout) >= 0 {
		if err := e.pool.Transfer(stablecoin, user, payout); err != nil {
			return nil, err
		}
	} else {
		// Liquidity shortfall: defer settlement instead of failing.
		orderType = OrderTypeRedeemNoSettlement
		status = StatusDeferred
		delayed, err := e.journal.DelayedBalance(user)
		if err != nil {
			return nil, err
		}
		delayed = new(big.Int).Add(delayed, tokensReceivedClaim)
		if err := e.journal.putDelayedBalance(user, delayed); err != nil {
			return nil, err
		}
		e.emit(events.OrderDeferred{User: user, Amount: newBigInt(tokensReceivedClaim), Asset: stablecoin})
	}

	if err := e.token.Burn(e.poolAddr, tokensGiven); err != nil {
		return nil, err
	}
	order, err := e.record(&Order{
		Type:           orderType,
		Status:         status,
		User:           user,
		TokensGiven:    newBigInt(tokensGiven),
		TokensReceived: newBigInt(tokensReceivedClaim),
		AvgBlendedFee:  newBigInt(feeAvg),
		Stablecoin:     stablecoin,
	})
	if err != nil {
		return nil, err
	}
	e.emit(events.OrderCompleted{
		OrderType:      order.Type.String(),
		User:           user,
		TokensGiven:    newBigInt(tokensGiven),
		TokensReceived: newBigInt(tokensReceivedClaim),
		Asset:          stablecoin,
	})
	return order, nil
}

// SettleDelayedFunds pays out part or all of a user's deferred redemption
// balance once hot-wallet liquidity has been replenished.
func (e *Engine) SettleDelayedFunds(amount *big.Int, user [20]byte, stablecoin string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	delayed, err := e.journal.DelayedBalance(user)
	if err != nil {
		return err
	}
	if amount.Cmp(delayed) > 0 {
		return ErrExceedsDelayedBalance
	}
	decimals, err := e.pool.Decimals(stablecoin)
	if err != nil {
		return err
	}
	payout, err := NormalizeToAsset(amount, decimals)
	if err != nil {
		return err
	}
	poolBalance, err := e.pool.Balance(stablecoin)
	if err != nil {
		return err
	}
	if poolBalance.Cmp(payout) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.pool.Transfer(stablecoin, user, payout); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(delayed, amount)
	if err := e.journal.putDelayedBalance(user, remaining); err != nil {
		return err
	}
	e.emit(events.DelayedFundsSettled{
		User:      user,
		Amount:    newBigInt(amount),
		Remaining: remaining,
		Asset:     stablecoin,
	})
	return nil
}

// DelayedBalance exposes the user's outstanding deferred redemption amount.
func (e *Engine) DelayedBalance(user [20]byte) (*big.Int, error) {
	if e == nil || e.journal == nil {
		return nil, ErrNilState
	}
	return e.journal.DelayedBalance(user)
}

// Orders returns the user's order history.
func (e *Engine) Orders(user [20]byte) ([]*Order, error) {
	if e == nil || e.journal == nil {
		return nil, ErrNilState
	}
	return e.journal.ListUser(user)
}
