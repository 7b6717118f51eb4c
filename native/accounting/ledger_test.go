package accounting

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"invfund/core/events"
	"invfund/native/fees"
	"invfund/storage"
)

var (
	orchestrator = addr(0x01)
	stranger     = addr(0x02)
)

func addr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func wadUnits(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), wad())
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(storage.NewKVStore(storage.NewMemDB()), orchestrator)
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func ts(year int, month time.Month, day int, hour int) int64 {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC).Unix()
}

func TestSetAccountingAdvancesPointer(t *testing.T) {
	ledger := newTestLedger(t)
	emitter := &captureEmitter{}
	ledger.SetEmitter(emitter)

	now := ts(2020, time.March, 10, 9)
	if err := ledger.SetAccounting(orchestrator, now, wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("set accounting failed: %v", err)
	}

	day, err := ledger.LastActivityDay()
	if err != nil {
		t.Fatalf("last activity day failed: %v", err)
	}
	if day != 20200310 {
		t.Fatalf("unexpected day: %d", day)
	}
	snapshot, err := ledger.CurrentAccounting()
	if err != nil {
		t.Fatalf("current accounting failed: %v", err)
	}
	if snapshot.Price.Cmp(wadUnits(1000)) != 0 {
		t.Fatalf("unexpected price: %s", snapshot.Price)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeAccountingUpdated {
		t.Fatalf("expected accounting updated event, got %+v", emitter.events)
	}
}

func TestSetAccountingUnauthorized(t *testing.T) {
	ledger := newTestLedger(t)
	err := ledger.SetAccounting(stranger, ts(2020, time.March, 10, 9), wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLastSnapshotForDayIsAuthoritative(t *testing.T) {
	ledger := newTestLedger(t)
	now := ts(2020, time.March, 10, 9)
	if err := ledger.SetAccounting(orchestrator, now, wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("first set failed: %v", err)
	}
	if err := ledger.SetAccounting(orchestrator, now+3600, wadUnits(1100), wadUnits(2100), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("second set failed: %v", err)
	}

	snapshot, err := ledger.AccountingFor(20200310)
	if err != nil {
		t.Fatalf("accounting lookup failed: %v", err)
	}
	if snapshot.Price.Cmp(wadUnits(1100)) != 0 {
		t.Fatalf("expected last snapshot to win, got price %s", snapshot.Price)
	}
	all, err := ledger.SnapshotsFor(20200310)
	if err != nil {
		t.Fatalf("snapshots lookup failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both snapshots retained, got %d", len(all))
	}
}

func TestSetAccountingForLastActivityDayKeepsPointer(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.SetAccounting(orchestrator, ts(2020, time.March, 10, 9), wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	// Intraday correction committed after midnight must still land on the 10th.
	if err := ledger.SetAccountingForLastActivityDay(orchestrator, wadUnits(900), wadUnits(1900), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("correction failed: %v", err)
	}

	day, err := ledger.LastActivityDay()
	if err != nil {
		t.Fatalf("last activity day failed: %v", err)
	}
	if day != 20200310 {
		t.Fatalf("pointer moved to %d", day)
	}
	snapshot, err := ledger.AccountingFor(20200310)
	if err != nil {
		t.Fatalf("accounting lookup failed: %v", err)
	}
	if snapshot.Price.Cmp(wadUnits(900)) != 0 {
		t.Fatalf("correction not authoritative: %s", snapshot.Price)
	}
}

func TestSetAccountingForLastActivityDayRequiresHistory(t *testing.T) {
	ledger := newTestLedger(t)
	err := ledger.SetAccountingForLastActivityDay(orchestrator, wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0))
	if !errors.Is(err, ErrNoAccounting) {
		t.Fatalf("expected missing accounting, got %v", err)
	}
}

func TestDayRegressionRejected(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.SetAccounting(orchestrator, ts(2020, time.March, 10, 9), wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	err := ledger.SetAccounting(orchestrator, ts(2020, time.March, 9, 9), wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0))
	if !errors.Is(err, ErrDayRegression) {
		t.Fatalf("expected day regression, got %v", err)
	}
}

func TestSnapshotInvariantNAVPositive(t *testing.T) {
	ledger := newTestLedger(t)
	// cashPerToken == balancePerToken*price leaves zero NAV and must fail.
	err := ledger.SetAccounting(orchestrator, ts(2020, time.March, 10, 9), wadUnits(1000), wadUnits(1000), wad(), big.NewInt(0))
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected invalid snapshot, got %v", err)
	}
}

func TestMissingDayLookupFails(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.AccountingFor(20200310); !errors.Is(err, ErrNoAccounting) {
		t.Fatalf("expected missing day error, got %v", err)
	}
	if _, err := ledger.CurrentPrice(); !errors.Is(err, ErrNoAccounting) {
		t.Fatalf("expected missing day error, got %v", err)
	}
}

func TestDaysSinceLastActivity(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.SetAccounting(orchestrator, ts(2020, time.March, 10, 15), wadUnits(1000), wadUnits(2000), wadUnits(1), big.NewInt(0)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	// The window starts at midnight of the activity day, not at commit time.
	days, err := ledger.DaysSinceLastActivity(ts(2020, time.March, 11, 1))
	if err != nil {
		t.Fatalf("days computation failed: %v", err)
	}
	if days != 1 {
		t.Fatalf("expected 1 day, got %d", days)
	}
	days, err = ledger.DaysSinceLastActivity(ts(2020, time.March, 13, 23))
	if err != nil {
		t.Fatalf("days computation failed: %v", err)
	}
	if days != 3 {
		t.Fatalf("expected 3 days, got %d", days)
	}
}

func TestConfigRoundTripAndScheduleUpdate(t *testing.T) {
	ledger := newTestLedger(t)
	schedule, err := fees.NewSchedule(big.NewInt(1_000_000_000_000_000)) // 0.1%
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if err := schedule.AddBracket(wadUnits(100_000), big.NewInt(3_000_000_000_000_000)); err != nil {
		t.Fatalf("add bracket failed: %v", err)
	}
	cfg := &Config{
		MinRebalanceAmount: wadUnits(1),
		ManagementFee:      big.NewInt(0),
		MinimumMintingFee:  wadUnits(2),
		MinimumTrade:       wadUnits(10),
		BalancePrecision:   8,
		Schedule:           schedule,
	}
	if err := ledger.SetConfig(stranger, cfg); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized config write, got %v", err)
	}
	if err := ledger.SetConfig(orchestrator, cfg); err != nil {
		t.Fatalf("set config failed: %v", err)
	}

	loaded, err := ledger.Config()
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if loaded.BalancePrecision != 8 || loaded.MinimumTrade.Cmp(wadUnits(10)) != 0 {
		t.Fatalf("config drifted: %+v", loaded)
	}
	if got := loaded.Schedule.Fee(wadUnits(50_000)); got.Cmp(big.NewInt(3_000_000_000_000_000)) != 0 {
		t.Fatalf("schedule not persisted: %s", got)
	}

	err = ledger.UpdateSchedule(orchestrator, func(cfg *Config) error {
		return cfg.Schedule.AddBracket(wadUnits(1_000_000), big.NewInt(2_000_000_000_000_000))
	})
	if err != nil {
		t.Fatalf("schedule update failed: %v", err)
	}
	reloaded, err := ledger.Config()
	if err != nil {
		t.Fatalf("reload config failed: %v", err)
	}
	if got := reloaded.Schedule.Fee(wadUnits(500_000)); got.Cmp(big.NewInt(2_000_000_000_000_000)) != 0 {
		t.Fatalf("schedule mutation lost: %s", got)
	}
}
