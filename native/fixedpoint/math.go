package fixedpoint

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// ScaleBits is the number of fractional bits carried by accumulator values.
const ScaleBits = 128

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrNegative is returned when a signed input cannot be represented.
	ErrNegative = errors.New("fixedpoint: negative value")
	// ErrInvalidAmount is returned when a decimal amount cannot be parsed.
	ErrInvalidAmount = errors.New("fixedpoint: invalid amount")

	scale    = new(uint256.Int).Lsh(uint256.NewInt(1), ScaleBits)
	fracMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), ScaleBits), uint256.NewInt(1))
)

// Scale returns a fresh copy of 2^128, the unit of a UQ128x128 value.
func Scale() *uint256.Int { return new(uint256.Int).Set(scale) }

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone copies v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// MulDiv returns floor(x*y/d) using a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(Clone(x), Clone(y), d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MulDivUp returns ceil(x*y/d) using a 512-bit intermediate product.
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	floor, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	// MulMod reduces the full 512-bit product.
	if new(uint256.Int).MulMod(Clone(x), Clone(y), d).IsZero() {
		return floor, nil
	}
	out, overflow := new(uint256.Int).AddOverflow(floor, uint256.NewInt(1))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// CeilDiv returns ceil(x/d).
func CeilDiv(x, d *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(x, uint256.NewInt(1), d)
}

// MulScaled returns floor(x*y / 2^128) together with the discarded fractional
// part, expressed in 2^-128 units.
func MulScaled(x, y *uint256.Int) (whole, frac *uint256.Int, err error) {
	whole, err = MulDiv(x, y, scale)
	if err != nil {
		return nil, nil, err
	}
	// The low 128 bits of the wrapped product equal the low 128 bits of the
	// exact product, which is precisely the remainder modulo 2^128.
	low := new(uint256.Int).Mul(Clone(x), Clone(y))
	frac = low.And(low, fracMask)
	return whole, frac, nil
}

// ToScaled returns x*2^128.
func ToScaled(x *uint256.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.BitLen() > 256-ScaleBits {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Lsh(x, ScaleBits), nil
}

// FromScaled splits a scaled value into whole units and the sub-unit rest.
func FromScaled(x *uint256.Int) (whole, frac *uint256.Int) {
	if x == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	whole = new(uint256.Int).Rsh(x, ScaleBits)
	frac = new(uint256.Int).And(x, fracMask)
	return whole, frac
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(Clone(x), Clone(y))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns x-y or ErrNegative when y exceeds x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(Clone(x), Clone(y))
	if underflow {
		return nil, ErrNegative
	}
	return out, nil
}

// FromBig converts a non-negative big integer.
func FromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ParseAmount parses a base-10 amount such as "2500000000000000000".
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrInvalidAmount
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return FromBig(value)
}

// Format renders v in base 10, treating nil as zero.
func Format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
