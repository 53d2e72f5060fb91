// Package numeric implements the unsigned fixed-point arithmetic used
// for asset quantities, prices and settlement values. Values carry 18
// fractional decimal digits and are bounded to 256 bits; multiplication
// and division are overflow-checked and truncate toward zero, matching
// the integer semantics of the original ledger.
//
// shopspring/decimal is used at the boundaries (JSON, API, config); it
// cannot serve as the core type because it neither bounds its range nor
// reproduces scaled floor division exactly.
package numeric

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/coinvest_unified/pkg/errs"
)

// FractionalDigits is the number of fractional decimal digits carried
// by every Value.
const FractionalDigits = 18

var (
	scale      = new(big.Int).Exp(big.NewInt(10), big.NewInt(FractionalDigits), nil)
	scaleSq    = new(big.Int).Mul(scale, scale)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Value is an unsigned fixed-point number stored as a scaled integer.
// The zero Value is ready to use and equals 0.
type Value struct {
	n *big.Int
}

// Zero returns the zero value.
func Zero() Value { return Value{} }

// One returns 1.0 in fixed-point representation.
func One() Value { return Value{n: new(big.Int).Set(scale)} }

// Scale returns the scaling factor 10^18 as a Value of 1.0's raw form.
func Scale() *big.Int { return new(big.Int).Set(scale) }

func (v Value) big() *big.Int {
	if v.n == nil {
		return new(big.Int)
	}
	return v.n
}

func checked(n *big.Int) (Value, error) {
	if n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return Value{}, errs.ErrValueOverflow
	}
	return Value{n: n}, nil
}

// FromRaw builds a Value from an already-scaled integer.
func FromRaw(n *big.Int) (Value, error) {
	if n == nil {
		return Value{}, nil
	}
	return checked(new(big.Int).Set(n))
}

// FromInt builds a Value representing the whole number i.
func FromInt(i int64) (Value, error) {
	if i < 0 {
		return Value{}, errs.ErrValueOverflow
	}
	return checked(new(big.Int).Mul(big.NewInt(i), scale))
}

// MustInt is FromInt for constants known to be in range.
func MustInt(i int64) Value {
	v, err := FromInt(i)
	if err != nil {
		panic(err)
	}
	return v
}

// FromDecimal converts d to fixed point, truncating digits beyond the
// 18th fractional place.
func FromDecimal(d decimal.Decimal) (Value, error) {
	if d.IsNegative() {
		return Value{}, errs.ErrValueOverflow
	}
	return checked(d.Shift(FractionalDigits).Truncate(0).BigInt())
}

// MustDecimal is FromDecimal for literals known to be in range.
func MustDecimal(s string) Value {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	v, err := FromDecimal(d)
	if err != nil {
		panic(err)
	}
	return v
}

// Decimal returns the exact decimal representation of v.
func (v Value) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Set(v.big()), -FractionalDigits)
}

// Raw returns a copy of the scaled integer backing v.
func (v Value) Raw() *big.Int { return new(big.Int).Set(v.big()) }

// IsZero reports whether v equals 0.
func (v Value) IsZero() bool { return v.big().Sign() == 0 }

// Cmp compares v and o, returning -1, 0 or 1.
func (v Value) Cmp(o Value) int { return v.big().Cmp(o.big()) }

// Add returns v + o with overflow checking.
func (v Value) Add(o Value) (Value, error) {
	return checked(new(big.Int).Add(v.big(), o.big()))
}

// Sub returns v - o; a negative result is an overflow.
func (v Value) Sub(o Value) (Value, error) {
	return checked(new(big.Int).Sub(v.big(), o.big()))
}

// Mul returns v * o / scale, truncated. The unscaled product is
// overflow-checked before division.
func (v Value) Mul(o Value) (Value, error) {
	prod := new(big.Int).Mul(v.big(), o.big())
	if prod.Cmp(maxUint256) > 0 {
		return Value{}, errs.ErrValueOverflow
	}
	return checked(prod.Quo(prod, scale))
}

// Div returns v * scale / o, truncated.
func (v Value) Div(o Value) (Value, error) {
	if o.IsZero() {
		return Value{}, fmt.Errorf("fixed-point division by zero: %w", errs.ErrValueOverflow)
	}
	num := new(big.Int).Mul(v.big(), scale)
	if num.Cmp(maxUint256) > 0 {
		return Value{}, errs.ErrValueOverflow
	}
	return checked(num.Quo(num, o.big()))
}

// Inverse returns scale^2 / v, the fixed-point multiplicative inverse.
// The result truncates at the 18th fractional digit, so inverting twice
// does not round-trip exactly.
func (v Value) Inverse() (Value, error) {
	if v.IsZero() {
		return Value{}, fmt.Errorf("inverse of zero: %w", errs.ErrValueOverflow)
	}
	return checked(new(big.Int).Quo(scaleSq, v.big()))
}

// MulBps returns v * bps / 10000, truncated. Used for basis-point fees.
func (v Value) MulBps(bps int64) (Value, error) {
	if bps < 0 {
		return Value{}, errs.ErrValueOverflow
	}
	prod := new(big.Int).Mul(v.big(), big.NewInt(bps))
	if prod.Cmp(maxUint256) > 0 {
		return Value{}, errs.ErrValueOverflow
	}
	return checked(prod.Quo(prod, big.NewInt(10000)))
}

// String renders v as a decimal string.
func (v Value) String() string { return v.Decimal().String() }

// MarshalJSON renders v as a quoted decimal string.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal number or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer, storing the scaled integer as text.
func (v Value) Value() (driver.Value, error) {
	return v.big().String(), nil
}

// Scan implements sql.Scanner for text and integer columns.
func (v *Value) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*v = Value{}
		return nil
	case int64:
		parsed, err := checked(big.NewInt(s))
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	case []byte:
		return v.scanString(string(s))
	case string:
		return v.scanString(s)
	default:
		return fmt.Errorf("cannot scan %T into numeric.Value", src)
	}
}

func (v *Value) scanString(s string) error {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid fixed-point literal %q", s)
	}
	parsed, err := checked(n)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
