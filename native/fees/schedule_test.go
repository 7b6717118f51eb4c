package fees

import (
	"errors"
	"math/big"
	"testing"
)

func rate(bps int64) *big.Int {
	// bps expressed against the wad scale: 1 bp = 1e14.
	return new(big.Int).Mul(big.NewInt(bps), big.NewInt(100_000_000_000_000))
}

func newTestSchedule(t *testing.T) *Schedule {
	t.Helper()
	schedule, err := NewSchedule(rate(10))
	if err != nil {
		t.Fatalf("new schedule failed: %v", err)
	}
	if err := schedule.AddBracket(big.NewInt(1_000), rate(50)); err != nil {
		t.Fatalf("add bracket failed: %v", err)
	}
	if err := schedule.AddBracket(big.NewInt(10_000), rate(30)); err != nil {
		t.Fatalf("add bracket failed: %v", err)
	}
	if err := schedule.AddBracket(big.NewInt(100_000), rate(20)); err != nil {
		t.Fatalf("add bracket failed: %v", err)
	}
	return schedule
}

func TestFeeLookupMonotonic(t *testing.T) {
	schedule := newTestSchedule(t)
	cases := []struct {
		amount *big.Int
		want   *big.Int
	}{
		{big.NewInt(1), rate(50)},
		{big.NewInt(1_000), rate(50)},
		{big.NewInt(1_001), rate(30)},
		{big.NewInt(10_000), rate(30)},
		{big.NewInt(99_999), rate(20)},
		{big.NewInt(100_000), rate(20)},
		{big.NewInt(100_001), rate(10)},
		{new(big.Int).Lsh(big.NewInt(1), 200), rate(10)},
	}
	for _, tc := range cases {
		got := schedule.Fee(tc.amount)
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("fee for %s: want %s got %s", tc.amount, tc.want, got)
		}
	}
}

func TestAddBracketOrdering(t *testing.T) {
	schedule := newTestSchedule(t)
	if err := schedule.AddBracket(big.NewInt(50_000), rate(25)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected ordering violation, got %v", err)
	}
	if err := schedule.AddBracket(big.NewInt(100_000), rate(25)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected duplicate threshold rejection, got %v", err)
	}
	if err := schedule.AddBracket(big.NewInt(200_000), rate(15)); err != nil {
		t.Fatalf("in-order insert failed: %v", err)
	}
}

func TestChangeBracketNeighbourChecks(t *testing.T) {
	schedule := newTestSchedule(t)
	if err := schedule.ChangeBracket(1, big.NewInt(1_000), rate(30)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected lower neighbour violation, got %v", err)
	}
	if err := schedule.ChangeBracket(1, big.NewInt(100_000), rate(30)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected upper neighbour violation, got %v", err)
	}
	if err := schedule.ChangeBracket(1, big.NewInt(20_000), rate(35)); err != nil {
		t.Fatalf("valid change failed: %v", err)
	}
	if got := schedule.Fee(big.NewInt(15_000)); got.Cmp(rate(35)) != 0 {
		t.Fatalf("changed bracket not applied: %s", got)
	}
	if err := schedule.ChangeBracket(5, big.NewInt(1), rate(1)); !errors.Is(err, ErrBracketNotFound) {
		t.Fatalf("expected missing bracket, got %v", err)
	}
}

func TestDeleteBracketRemovesInteriorBracket(t *testing.T) {
	schedule := newTestSchedule(t)
	if err := schedule.DeleteBracket(1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Amounts that used the 10_000 bracket now fall through to the next one.
	if got := schedule.Fee(big.NewInt(5_000)); got.Cmp(rate(20)) != 0 {
		t.Fatalf("expected next bracket rate after interior delete, got %s", got)
	}
	// The surviving neighbours still resolve as before.
	if got := schedule.Fee(big.NewInt(500)); got.Cmp(rate(50)) != 0 {
		t.Fatalf("lower bracket disturbed: %s", got)
	}
	if got := schedule.Fee(big.NewInt(200_000)); got.Cmp(rate(10)) != 0 {
		t.Fatalf("terminal bracket disturbed: %s", got)
	}
	// Refilling the vacated range still enforces ordering.
	if err := schedule.AddBracket(big.NewInt(10_000), rate(30)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected ordering violation on tail insert, got %v", err)
	}
	if err := schedule.DeleteBracket(2); !errors.Is(err, ErrBracketNotFound) {
		t.Fatalf("expected missing bracket, got %v", err)
	}
	if err := schedule.DeleteBracket(-1); !errors.Is(err, ErrBracketNotFound) {
		t.Fatalf("expected negative index rejection, got %v", err)
	}
}

func TestDeleteLastBracketKeepsOrdering(t *testing.T) {
	schedule := newTestSchedule(t)
	if err := schedule.DeleteLastBracket(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// 100_000 now resolves through the terminal bracket.
	if got := schedule.Fee(big.NewInt(100_000)); got.Cmp(rate(10)) != 0 {
		t.Fatalf("expected default rate after delete, got %s", got)
	}
	// Insertions below the new last bracket remain invalid.
	if err := schedule.AddBracket(big.NewInt(5_000), rate(40)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected ordering violation after delete, got %v", err)
	}
}

func TestFromBracketsRoundTrip(t *testing.T) {
	schedule := newTestSchedule(t)
	rebuilt, err := FromBrackets(schedule.Brackets(), schedule.DefaultRate())
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if got := rebuilt.Fee(big.NewInt(10_000)); got.Cmp(rate(30)) != 0 {
		t.Fatalf("rebuilt schedule lookup mismatch: %s", got)
	}

	shuffled := []Bracket{
		{Threshold: big.NewInt(10), Rate: rate(1)},
		{Threshold: big.NewInt(5), Rate: rate(2)},
	}
	if _, err := FromBrackets(shuffled, rate(1)); !errors.Is(err, ErrInvalidBracketOrder) {
		t.Fatalf("expected ordering violation, got %v", err)
	}
}
