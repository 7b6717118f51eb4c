package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

const (
	TypeOrderCompleted      = "fund.order.completed"
	TypeOrderDeferred       = "fund.order.deferred"
	TypeDelayedFundsSettled = "fund.order.delayedSettled"
	TypeRebalanceCompleted  = "fund.rebalance.completed"
	TypeAccountingUpdated   = "fund.accounting.updated"
)

// OrderCompleted is emitted when a creation or redemption order finishes.
type OrderCompleted struct {
	OrderType      string
	User           [20]byte
	TokensGiven    *big.Int
	TokensReceived *big.Int
	Asset          string
}

func (OrderCompleted) EventType() string { return TypeOrderCompleted }

func (e OrderCompleted) Attributes() map[string]string {
	return map[string]string{
		"orderType":      e.OrderType,
		"user":           hexAddr(e.User),
		"tokensGiven":    formatAmount(e.TokensGiven),
		"tokensReceived": formatAmount(e.TokensReceived),
		"asset":          e.Asset,
	}
}

// OrderDeferred is emitted when a redemption cannot settle immediately and
// the proceeds are parked as a delayed redemption balance.
type OrderDeferred struct {
	User   [20]byte
	Amount *big.Int
	Asset  string
}

func (OrderDeferred) EventType() string { return TypeOrderDeferred }

func (e OrderDeferred) Attributes() map[string]string {
	return map[string]string{
		"user":   hexAddr(e.User),
		"amount": formatAmount(e.Amount),
		"asset":  e.Asset,
	}
}

// DelayedFundsSettled is emitted when a deferred redemption balance is paid out.
type DelayedFundsSettled struct {
	User      [20]byte
	Amount    *big.Int
	Remaining *big.Int
	Asset     string
}

func (DelayedFundsSettled) EventType() string { return TypeDelayedFundsSettled }

func (e DelayedFundsSettled) Attributes() map[string]string {
	return map[string]string{
		"user":      hexAddr(e.User),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
		"asset":     e.Asset,
	}
}

// RebalanceCompleted is emitted after a daily or threshold rebalance commits.
type RebalanceCompleted struct {
	Kind            string
	Price           *big.Int
	CashPerToken    *big.Int
	BalancePerToken *big.Int
	LendingFee      *big.Int
}

func (RebalanceCompleted) EventType() string { return TypeRebalanceCompleted }

func (e RebalanceCompleted) Attributes() map[string]string {
	return map[string]string{
		"kind":            e.Kind,
		"price":           formatAmount(e.Price),
		"cashPerToken":    formatAmount(e.CashPerToken),
		"balancePerToken": formatAmount(e.BalancePerToken),
		"lendingFee":      formatAmount(e.LendingFee),
	}
}

// AccountingUpdated is emitted whenever a snapshot is appended to the ledger.
type AccountingUpdated struct {
	Day uint32
}

func (AccountingUpdated) EventType() string { return TypeAccountingUpdated }

func (e AccountingUpdated) Attributes() map[string]string {
	return map[string]string{
		"day": strconv.FormatUint(uint64(e.Day), 10),
	}
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
