package fees

import (
	"errors"
	"math/big"
	"sort"
)

var (
	// ErrInvalidBracketOrder is returned when a mutation would break the
	// strictly increasing threshold sequence.
	ErrInvalidBracketOrder = errors.New("fees: bracket thresholds must be strictly increasing")
	// ErrBracketNotFound is returned when an index does not address a bracket.
	ErrBracketNotFound = errors.New("fees: bracket not found")
	// ErrInvalidRate is returned when a rate is nil or negative.
	ErrInvalidRate = errors.New("fees: rate must be non-negative")
	// ErrInvalidThreshold is returned when a threshold is nil or not positive.
	ErrInvalidThreshold = errors.New("fees: threshold must be positive")
)

// Bracket maps a notional threshold to the wad-scaled fee rate charged for
// amounts at or below it.
type Bracket struct {
	Threshold *big.Int
	Rate      *big.Int
}

// Clone returns a deep copy of the bracket.
func (b Bracket) Clone() Bracket {
	clone := Bracket{}
	if b.Threshold != nil {
		clone.Threshold = new(big.Int).Set(b.Threshold)
	}
	if b.Rate != nil {
		clone.Rate = new(big.Int).Set(b.Rate)
	}
	return clone
}

// Schedule is a tiered minting fee table. Finite brackets are kept sorted by
// strictly increasing threshold; amounts above every finite threshold take the
// default rate, conceptually the bracket keyed by infinity.
type Schedule struct {
	brackets    []Bracket
	defaultRate *big.Int
}

// NewSchedule constructs a schedule holding only the terminal (infinity)
// bracket with the supplied rate.
func NewSchedule(defaultRate *big.Int) (*Schedule, error) {
	if defaultRate == nil || defaultRate.Sign() < 0 {
		return nil, ErrInvalidRate
	}
	return &Schedule{defaultRate: new(big.Int).Set(defaultRate)}, nil
}

// FromBrackets rebuilds a schedule from stored brackets, validating ordering.
func FromBrackets(brackets []Bracket, defaultRate *big.Int) (*Schedule, error) {
	schedule, err := NewSchedule(defaultRate)
	if err != nil {
		return nil, err
	}
	for _, bracket := range brackets {
		if err := schedule.AddBracket(bracket.Threshold, bracket.Rate); err != nil {
			return nil, err
		}
	}
	return schedule, nil
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := &Schedule{brackets: make([]Bracket, 0, len(s.brackets))}
	for _, bracket := range s.brackets {
		clone.brackets = append(clone.brackets, bracket.Clone())
	}
	if s.defaultRate != nil {
		clone.defaultRate = new(big.Int).Set(s.defaultRate)
	}
	return clone
}

// Brackets returns a deep copy of the finite brackets in ascending order.
func (s *Schedule) Brackets() []Bracket {
	if s == nil {
		return nil
	}
	out := make([]Bracket, 0, len(s.brackets))
	for _, bracket := range s.brackets {
		out = append(out, bracket.Clone())
	}
	return out
}

// DefaultRate returns the rate applied above every finite threshold.
func (s *Schedule) DefaultRate() *big.Int {
	if s == nil || s.defaultRate == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.defaultRate)
}

// Fee resolves the rate for the supplied notional amount: the smallest
// threshold greater than or equal to the amount wins, falling back to the
// terminal bracket when the amount exceeds every finite threshold.
func (s *Schedule) Fee(amount *big.Int) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	if amount == nil || amount.Sign() < 0 {
		amount = big.NewInt(0)
	}
	idx := sort.Search(len(s.brackets), func(i int) bool {
		return s.brackets[i].Threshold.Cmp(amount) >= 0
	})
	if idx == len(s.brackets) {
		return s.DefaultRate()
	}
	return new(big.Int).Set(s.brackets[idx].Rate)
}

// AddBracket appends a finite bracket below the terminal one. The threshold
// must exceed the current largest finite threshold so the sequence stays
// strictly increasing.
func (s *Schedule) AddBracket(threshold, rate *big.Int) error {
	if s == nil {
		return ErrBracketNotFound
	}
	if threshold == nil || threshold.Sign() <= 0 {
		return ErrInvalidThreshold
	}
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidRate
	}
	if len(s.brackets) > 0 && threshold.Cmp(s.brackets[len(s.brackets)-1].Threshold) <= 0 {
		return ErrInvalidBracketOrder
	}
	s.brackets = append(s.brackets, Bracket{
		Threshold: new(big.Int).Set(threshold),
		Rate:      new(big.Int).Set(rate),
	})
	return nil
}

// ChangeBracket rewrites the bracket at index, enforcing strict ordering
// against both neighbours.
func (s *Schedule) ChangeBracket(index int, threshold, rate *big.Int) error {
	if s == nil || index < 0 || index >= len(s.brackets) {
		return ErrBracketNotFound
	}
	if threshold == nil || threshold.Sign() <= 0 {
		return ErrInvalidThreshold
	}
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidRate
	}
	if index > 0 && threshold.Cmp(s.brackets[index-1].Threshold) <= 0 {
		return ErrInvalidBracketOrder
	}
	if index < len(s.brackets)-1 && threshold.Cmp(s.brackets[index+1].Threshold) >= 0 {
		return ErrInvalidBracketOrder
	}
	s.brackets[index] = Bracket{
		Threshold: new(big.Int).Set(threshold),
		Rate:      new(big.Int).Set(rate),
	}
	return nil
}

// DeleteBracket removes the finite bracket at index. Removing an interior
// bracket keeps the remaining thresholds strictly increasing, so no
// reordering check is needed. The terminal bracket is not addressable here.
func (s *Schedule) DeleteBracket(index int) error {
	if s == nil || index < 0 || index >= len(s.brackets) {
		return ErrBracketNotFound
	}
	s.brackets = append(s.brackets[:index], s.brackets[index+1:]...)
	return nil
}

// DeleteLastBracket removes the largest finite bracket. Subsequent insertions
// are still validated against the remaining tail, so thresholds below the new
// last bracket keep being rejected.
func (s *Schedule) DeleteLastBracket() error {
	if s == nil || len(s.brackets) == 0 {
		return ErrBracketNotFound
	}
	s.brackets = s.brackets[:len(s.brackets)-1]
	return nil
}

// SetDefaultRate replaces the terminal bracket rate.
func (s *Schedule) SetDefaultRate(rate *big.Int) error {
	if s == nil {
		return ErrBracketNotFound
	}
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidRate
	}
	s.defaultRate = new(big.Int).Set(rate)
	return nil
}
