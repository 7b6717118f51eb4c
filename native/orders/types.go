package orders

import (
	"fmt"
	"math/big"
	"strings"
)

// OrderType distinguishes creations from the two redemption outcomes.
type OrderType uint8

const (
	OrderTypeCreate OrderType = iota
	OrderTypeRedeem
	// OrderTypeRedeemNoSettlement marks a redemption whose proceeds were
	// deferred because the hot wallet could not cover the payout.
	OrderTypeRedeemNoSettlement
)

// String implements fmt.Stringer.
func (t OrderType) String() string {
	switch t {
	case OrderTypeCreate:
		return "CREATE"
	case OrderTypeRedeem:
		return "REDEEM"
	case OrderTypeRedeemNoSettlement:
		return "REDEEM_NO_SETTLEMENT"
	default:
		return fmt.Sprintf("ORDER_TYPE_%d", uint8(t))
	}
}

// OrderStatus is the terminal state recorded for an order. Orders are
// processed synchronously, so the transient pending state is never persisted.
type OrderStatus uint8

const (
	// StatusSuccess marks a completed creation or a settled redemption.
	StatusSuccess OrderStatus = iota
	// StatusReversed marks an order whose upstream execution failed and whose
	// input was refunded.
	StatusReversed
	// StatusDeferred marks a redemption awaiting delayed settlement.
	StatusDeferred
	// StatusSettled marks a previously deferred redemption that has paid out.
	StatusSettled
)

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusReversed:
		return "REVERSED"
	case StatusDeferred:
		return "DEFERRED"
	case StatusSettled:
		return "SETTLED"
	default:
		return fmt.Sprintf("ORDER_STATUS_%d", uint8(s))
	}
}

// Order is one processed creation or redemption.
type Order struct {
	Index          uint64
	Type           OrderType
	Status         OrderStatus
	User           [20]byte
	TokensGiven    *big.Int
	TokensReceived *big.Int
	AvgBlendedFee  *big.Int
	Stablecoin     string
	CreatedAt      int64
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.TokensGiven = newBigInt(o.TokensGiven)
	clone.TokensReceived = newBigInt(o.TokensReceived)
	clone.AvgBlendedFee = newBigInt(o.AvgBlendedFee)
	return &clone
}

type storedOrder struct {
	Index          uint64
	Type           uint8
	Status         uint8
	User           [20]byte
	TokensGiven    string
	TokensReceived string
	AvgBlendedFee  string
	Stablecoin     string
	CreatedAt      uint64
}

func toStoredOrder(o *Order) storedOrder {
	return storedOrder{
		Index:          o.Index,
		Type:           uint8(o.Type),
		Status:         uint8(o.Status),
		User:           o.User,
		TokensGiven:    amountToString(o.TokensGiven),
		TokensReceived: amountToString(o.TokensReceived),
		AvgBlendedFee:  amountToString(o.AvgBlendedFee),
		Stablecoin:     strings.TrimSpace(o.Stablecoin),
		CreatedAt:      uint64(max64(o.CreatedAt, 0)),
	}
}

func fromStoredOrder(stored storedOrder) (*Order, error) {
	tokensGiven, err := amountFromString(stored.TokensGiven)
	if err != nil {
		return nil, fmt.Errorf("orders: invalid tokens given: %w", err)
	}
	tokensReceived, err := amountFromString(stored.TokensReceived)
	if err != nil {
		return nil, fmt.Errorf("orders: invalid tokens received: %w", err)
	}
	avgFee, err := amountFromString(stored.AvgBlendedFee)
	if err != nil {
		return nil, fmt.Errorf("orders: invalid blended fee: %w", err)
	}
	return &Order{
		Index:          stored.Index,
		Type:           OrderType(stored.Type),
		Status:         OrderStatus(stored.Status),
		User:           stored.User,
		TokensGiven:    tokensGiven,
		TokensReceived: tokensReceived,
		AvgBlendedFee:  avgFee,
		Stablecoin:     stored.Stablecoin,
		CreatedAt:      int64(stored.CreatedAt),
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

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
