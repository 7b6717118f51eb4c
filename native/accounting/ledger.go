package accounting

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"invfund/core/events"
)

// Storage abstracts the subset of key-value functionality required by the
// accounting ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	accountingDayPrefix = []byte("fund/accounting/day/")
	lastActivityDayKey  = []byte("fund/accounting/lastActivityDay")
	fundConfigKey       = []byte("fund/accounting/config")
)

var (
	// ErrUnauthorized is returned when a caller other than the configured
	// orchestrator attempts a mutation.
	ErrUnauthorized = errors.New("accounting: caller is not the orchestrator")
	// ErrNoAccounting is returned when a queried day holds no snapshots.
	ErrNoAccounting = errors.New("accounting: no snapshot for day")
	// ErrNotInitialised is returned when the ledger has no config yet.
	ErrNotInitialised = errors.New("accounting: config not initialised")
	// ErrInvalidSnapshot is returned when snapshot fields are nil, negative,
	// or would record a non-positive per-token NAV.
	ErrInvalidSnapshot = errors.New("accounting: invalid snapshot")
	// ErrDayRegression is returned when the derived calendar day is behind
	// the last activity day.
	ErrDayRegression = errors.New("accounting: day precedes last activity day")
)

const secondsPerDay = 86_400

// Ledger is the append-only per-day accounting table plus the fund config.
// It is mutated only by the rebalance orchestrator; every setter checks the
// caller against the configured orchestrator address.
type Ledger struct {
	store        Storage
	emitter      events.Emitter
	orchestrator [20]byte
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage, orchestrator [20]byte) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}, orchestrator: orchestrator}
}

// SetEmitter configures the event emitter used for accounting notifications.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) authorize(caller [20]byte) error {
	if caller != l.orchestrator {
		return ErrUnauthorized
	}
	return nil
}

// DayFromUnix derives the YYYYMMDD calendar day for a UTC timestamp.
func DayFromUnix(now int64) uint32 {
	t := time.Unix(now, 0).UTC()
	return uint32(t.Year())*10_000 + uint32(t.Month())*100 + uint32(t.Day())
}

// StartOfDay recovers the UTC midnight timestamp for a YYYYMMDD day integer.
func StartOfDay(day uint32) (int64, error) {
	year := int(day / 10_000)
	month := int(day / 100 % 100)
	dom := int(day % 100)
	if month < 1 || month > 12 || dom < 1 || dom > 31 {
		return 0, fmt.Errorf("accounting: invalid day %d", day)
	}
	return time.Date(year, time.Month(month), dom, 0, 0, 0, 0, time.UTC).Unix(), nil
}

func dayKey(day uint32) []byte {
	return []byte(fmt.Sprintf("%s%08d", accountingDayPrefix, day))
}

func validateSnapshot(price, cashPerToken, balPerToken, lendingFee *big.Int) error {
	for _, v := range []*big.Int{price, cashPerToken, balPerToken, lendingFee} {
		if v == nil || v.Sign() < 0 {
			return ErrInvalidSnapshot
		}
	}
	// Per-token NAV must stay positive: cash > balance*price.
	debt := new(big.Int).Mul(balPerToken, price)
	debt.Quo(debt, wad())
	if cashPerToken.Cmp(debt) <= 0 {
		return ErrInvalidSnapshot
	}
	return nil
}

func wad() *big.Int {
	w, _ := new(big.Int).SetString("1000000000000000000", 10)
	return w
}

func (l *Ledger) appendSnapshot(day uint32, price, cashPerToken, balPerToken, lendingFee *big.Int) error {
	key := dayKey(day)
	var stored []storedSnapshot
	if _, err := l.store.KVGet(key, &stored); err != nil {
		return err
	}
	snapshot := &Snapshot{
		Day:             day,
		Price:           newBigInt(price),
		CashPerToken:    newBigInt(cashPerToken),
		BalancePerToken: newBigInt(balPerToken),
		LendingFee:      newBigInt(lendingFee),
	}
	stored = append(stored, toStoredSnapshot(snapshot))
	return l.store.KVPut(key, stored)
}

// SetAccounting appends a snapshot under the calendar day derived from `now`
// and advances the last activity day pointer.
func (l *Ledger) SetAccounting(caller [20]byte, now int64, price, cashPerToken, balPerToken, lendingFee *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("accounting: ledger not initialised")
	}
	if err := l.authorize(caller); err != nil {
		return err
	}
	if err := validateSnapshot(price, cashPerToken, balPerToken, lendingFee); err != nil {
		return err
	}
	day := DayFromUnix(now)
	last, ok, err := l.lastActivityDay()
	if err != nil {
		return err
	}
	if ok && day < last {
		return ErrDayRegression
	}
	if err := l.appendSnapshot(day, price, cashPerToken, balPerToken, lendingFee); err != nil {
		return err
	}
	if err := l.store.KVPut(lastActivityDayKey, day); err != nil {
		return err
	}
	l.emit(events.AccountingUpdated{Day: day})
	return nil
}

// SetAccountingForLastActivityDay appends a snapshot under the existing last
// activity day without moving the pointer. Used for intraday threshold
// rebalances so the daily cutoff does not shift.
func (l *Ledger) SetAccountingForLastActivityDay(caller [20]byte, price, cashPerToken, balPerToken, lendingFee *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("accounting: ledger not initialised")
	}
	if err := l.authorize(caller); err != nil {
		return err
	}
	if err := validateSnapshot(price, cashPerToken, balPerToken, lendingFee); err != nil {
		return err
	}
	day, ok, err := l.lastActivityDay()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoAccounting
	}
	if err := l.appendSnapshot(day, price, cashPerToken, balPerToken, lendingFee); err != nil {
		return err
	}
	l.emit(events.AccountingUpdated{Day: day})
	return nil
}

func (l *Ledger) lastActivityDay() (uint32, bool, error) {
	var day uint32
	ok, err := l.store.KVGet(lastActivityDayKey, &day)
	if err != nil {
		return 0, false, err
	}
	return day, ok, nil
}

// LastActivityDay returns the day pointer advanced by SetAccounting.
func (l *Ledger) LastActivityDay() (uint32, error) {
	day, ok, err := l.lastActivityDay()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoAccounting
	}
	return day, nil
}

// AccountingFor returns the authoritative (last) snapshot for the given day.
func (l *Ledger) AccountingFor(day uint32) (*Snapshot, error) {
	var stored []storedSnapshot
	ok, err := l.store.KVGet(dayKey(day), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || len(stored) == 0 {
		return nil, ErrNoAccounting
	}
	return fromStoredSnapshot(stored[len(stored)-1])
}

// SnapshotsFor returns every snapshot appended for the given day in commit order.
func (l *Ledger) SnapshotsFor(day uint32) ([]*Snapshot, error) {
	var stored []storedSnapshot
	ok, err := l.store.KVGet(dayKey(day), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || len(stored) == 0 {
		return nil, ErrNoAccounting
	}
	out := make([]*Snapshot, 0, len(stored))
	for _, entry := range stored {
		snapshot, err := fromStoredSnapshot(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// CurrentAccounting returns the authoritative snapshot for the last activity day.
func (l *Ledger) CurrentAccounting() (*Snapshot, error) {
	day, err := l.LastActivityDay()
	if err != nil {
		return nil, err
	}
	return l.AccountingFor(day)
}

// CurrentPrice returns the price recorded by the latest snapshot.
func (l *Ledger) CurrentPrice() (*big.Int, error) {
	snapshot, err := l.CurrentAccounting()
	if err != nil {
		return nil, err
	}
	return snapshot.Price, nil
}

// CurrentCashPerToken returns the collateral per token from the latest snapshot.
func (l *Ledger) CurrentCashPerToken() (*big.Int, error) {
	snapshot, err := l.CurrentAccounting()
	if err != nil {
		return nil, err
	}
	return snapshot.CashPerToken, nil
}

// CurrentBalancePerToken returns the debt per token from the latest snapshot.
func (l *Ledger) CurrentBalancePerToken() (*big.Int, error) {
	snapshot, err := l.CurrentAccounting()
	if err != nil {
		return nil, err
	}
	return snapshot.BalancePerToken, nil
}

// CurrentLendingFee returns the annualised lending fee from the latest snapshot.
func (l *Ledger) CurrentLendingFee() (*big.Int, error) {
	snapshot, err := l.CurrentAccounting()
	if err != nil {
		return nil, err
	}
	return snapshot.LendingFee, nil
}

// DaysSinceLastActivity computes whole days elapsed between the start of the
// last activity day and `now`.
func (l *Ledger) DaysSinceLastActivity(now int64) (uint64, error) {
	day, err := l.LastActivityDay()
	if err != nil {
		return 0, err
	}
	start, err := StartOfDay(day)
	if err != nil {
		return 0, err
	}
	if now <= start {
		return 0, nil
	}
	return uint64(now-start) / secondsPerDay, nil
}

// SetConfig initialises or replaces the fund configuration.
func (l *Ledger) SetConfig(caller [20]byte, cfg *Config) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	if cfg == nil || cfg.Schedule == nil {
		return fmt.Errorf("accounting: config and fee schedule required")
	}
	for _, v := range []*big.Int{cfg.MinRebalanceAmount, cfg.ManagementFee, cfg.MinimumMintingFee, cfg.MinimumTrade} {
		if v == nil || v.Sign() < 0 {
			return fmt.Errorf("accounting: config amounts must be non-negative")
		}
	}
	return l.store.KVPut(fundConfigKey, toStoredConfig(cfg))
}

// Config returns a deep copy of the fund configuration.
func (l *Ledger) Config() (*Config, error) {
	var stored storedConfig
	ok, err := l.store.KVGet(fundConfigKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	return fromStoredConfig(stored)
}

// UpdateSchedule applies a mutation to the minting fee schedule and persists
// the result atomically with respect to the single-writer execution model.
func (l *Ledger) UpdateSchedule(caller [20]byte, mutate func(*Config) error) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	cfg, err := l.Config()
	if err != nil {
		return err
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	return l.store.KVPut(fundConfigKey, toStoredConfig(cfg))
}
