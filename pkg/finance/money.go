// Package finance provides exact token amounts for the payment ledger.
//
// All amounts are unsigned integers in base units, where one whole token is
// 10^18 base units. Arithmetic never uses floating point.
package finance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Decimals is the number of fractional digits carried by the token.
const Decimals = 18

var (
	// ErrNegative is returned when an operation would produce a negative amount.
	ErrNegative = errors.New("finance: amount would be negative")
	// ErrPrecision is returned when a decimal has more than Decimals fractional digits.
	ErrPrecision = errors.New("finance: too many fractional digits")
)

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Amount is an immutable, non-negative quantity of base units.
// The zero value is a valid zero amount.
type Amount struct {
	i *big.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// NewAmount creates an Amount of n base units. Negative n is clamped to zero.
func NewAmount(n int64) Amount {
	if n <= 0 {
		return Amount{}
	}
	return Amount{i: big.NewInt(n)}
}

// FromBig copies b into a new Amount. It fails for negative values.
func FromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, ErrNegative
	}
	return Amount{i: new(big.Int).Set(b)}, nil
}

// Tokens returns n whole tokens (n * 10^18 base units).
func Tokens(n int64) Amount {
	if n <= 0 {
		return Amount{}
	}
	return Amount{i: new(big.Int).Mul(big.NewInt(n), unit)}
}

func (a Amount) big() *big.Int {
	if a.i == nil {
		return new(big.Int)
	}
	return a.i
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int { return new(big.Int).Set(a.big()) }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.i == nil || a.i.Sign() == 0 }

// IsPositive reports whether a is greater than zero.
func (a Amount) IsPositive() bool { return !a.IsZero() }

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{i: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a - b, or ErrNegative if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, ErrNegative
	}
	return Amount{i: new(big.Int).Sub(a.big(), b.big())}, nil
}

// MulDiv returns floor(a * num / den). den must be positive.
func (a Amount) MulDiv(num, den *big.Int) Amount {
	if den == nil || den.Sign() <= 0 || num == nil || num.Sign() <= 0 {
		return Amount{}
	}
	out := new(big.Int).Mul(a.big(), num)
	out.Quo(out, den)
	return Amount{i: out}
}

// Div returns floor(a / n) for n > 0.
func (a Amount) Div(n uint64) Amount {
	if n == 0 {
		return Amount{}
	}
	return Amount{i: new(big.Int).Quo(a.big(), new(big.Int).SetUint64(n))}
}

// Mul returns a * n.
func (a Amount) Mul(n uint64) Amount {
	return Amount{i: new(big.Int).Mul(a.big(), new(big.Int).SetUint64(n))}
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// String returns the amount in base units.
func (a Amount) String() string { return a.big().String() }

// ParseBase parses a decimal integer string of base units.
func ParseBase(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("finance: empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("finance: invalid amount %q", s)
	}
	return FromBig(v)
}

// ParseUnits parses a human-readable token quantity such as "12.5" into base units.
func ParseUnits(s string) (Amount, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("finance: invalid decimal %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return Amount{}, fmt.Errorf("finance: invalid decimal %q", s)
	}
	if d.Negative && !d.IsZero() {
		return Amount{}, ErrNegative
	}

	var scaled apd.Decimal
	ctx := apd.BaseContext.WithPrecision(200)
	cond, err := ctx.Quantize(&scaled, d, -Decimals)
	if err != nil {
		return Amount{}, fmt.Errorf("finance: quantize %q: %w", s, err)
	}
	if cond.Inexact() {
		return Amount{}, ErrPrecision
	}
	return FromBig(scaled.Coeff.MathBigInt())
}

// Format renders the amount as a token quantity with trailing zeros removed.
func (a Amount) Format() string {
	if a.IsZero() {
		return "0"
	}
	d := apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(a.big()), -Decimals)
	var reduced apd.Decimal
	reduced.Reduce(d)
	if reduced.Exponent > 0 {
		// Reduce may fold trailing zeros of whole numbers into the exponent.
		return new(big.Int).Quo(a.big(), unit).String()
	}
	return reduced.Text('f')
}

// MarshalJSON encodes the amount as a string of base units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a string or bare number of base units.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	if s == "null" || s == "" {
		*a = Amount{}
		return nil
	}
	v, err := ParseBase(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
