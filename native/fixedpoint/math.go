package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	// ErrOverflow is returned when a result exceeds the 256-bit unsigned range.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrUnderflow is returned when a subtraction would produce a negative value.
	ErrUnderflow = errors.New("fixedpoint: underflow")
	// ErrDivideByZero is returned when a divisor is zero.
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	// ErrNegativeOperand is returned when an operand is negative or nil.
	ErrNegativeOperand = errors.New("fixedpoint: operand must be non-negative")
)

var (
	wad      = mustBigInt("1000000000000000000") // 1e18 scale shared by every monetary quantity
	maxValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Wad returns a fresh copy of the 1e18 scale constant.
func Wad() *big.Int {
	return new(big.Int).Set(wad)
}

func checkOperands(operands ...*big.Int) error {
	for _, op := range operands {
		if op == nil || op.Sign() < 0 {
			return ErrNegativeOperand
		}
	}
	return nil
}

func checkRange(v *big.Int) (*big.Int, error) {
	if v.Cmp(maxValue) > 0 {
		return nil, ErrOverflow
	}
	return v, nil
}

// Add returns a+b, failing on 256-bit overflow.
func Add(a, b *big.Int) (*big.Int, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	return checkRange(new(big.Int).Add(a, b))
}

// Sub returns a-b, failing when the result would be negative.
func Sub(a, b *big.Int) (*big.Int, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	if a.Cmp(b) < 0 {
		return nil, ErrUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}

// Mul returns a*b on unscaled integers, failing on 256-bit overflow.
func Mul(a, b *big.Int) (*big.Int, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	return checkRange(new(big.Int).Mul(a, b))
}

// Div returns a/b truncated toward zero.
func Div(a, b *big.Int) (*big.Int, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	if b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	return new(big.Int).Quo(a, b), nil
}

// Wmul multiplies two wad-scaled values: a*b/1e18, truncated. The truncation
// direction is load-bearing for reproducibility and must not be changed to
// any rounding variant.
func Wmul(a, b *big.Int) (*big.Int, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	product := new(big.Int).Mul(a, b)
	if _, err := checkRange(product); err != nil {
		return nil, err
	}
	return product.Quo(product, wad), nil
}

// Wdiv divides two wad-scaled values: a*1e18/b, truncated.
func Wdiv(a, b *big.Int) (*big.Int, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	if b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	numerator := new(big.Int).Mul(a, wad)
	if _, err := checkRange(numerator); err != nil {
		return nil, err
	}
	return numerator.Quo(numerator, b), nil
}

// TruncateToPrecision zeroes out all but the leading `decimals` fractional
// digits of a wad-scaled value. A precision of 18 (or more) is the identity.
func TruncateToPrecision(v *big.Int, decimals uint) (*big.Int, error) {
	if err := checkOperands(v); err != nil {
		return nil, err
	}
	if decimals >= 18 {
		return new(big.Int).Set(v), nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
	out := new(big.Int).Quo(v, unit)
	return out.Mul(out, unit), nil
}
