// Package money provides an immutable decimal Money value with 2-decimal-place
// canonical semantics, used for every bid amount in the auction core. No bid
// math anywhere in this module uses native floating point.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money wraps decimal.Decimal and always carries a canonical 2dp scale.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// ParseError is returned when a non-empty input is not a well-formed decimal.
type ParseError struct {
	Input interface{}
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("money: cannot parse %v as decimal: %v", e.Input, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// FromAny converts a nullable/empty input to Money. nil or "" yields Zero.
// Accepts string, int, int64, float64, decimal.Decimal, and Money itself.
func FromAny(v interface{}) (Money, error) {
	switch t := v.(type) {
	case nil:
		return Zero, nil
	case Money:
		return t.RoundToCents(), nil
	case string:
		if t == "" {
			return Zero, nil
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return Zero, &ParseError{Input: v, Cause: err}
		}
		return Money{d: d}.RoundToCents(), nil
	case int:
		return Money{d: decimal.NewFromInt(int64(t))}, nil
	case int64:
		return Money{d: decimal.NewFromInt(t)}, nil
	case float64:
		return Money{d: decimal.NewFromFloat(t)}.RoundToCents(), nil
	case decimal.Decimal:
		return Money{d: t}.RoundToCents(), nil
	default:
		return Zero, &ParseError{Input: v, Cause: fmt.Errorf("unsupported type %T", v)}
	}
}

// New constructs a Money from a decimal.Decimal, rounded to cents.
func New(d decimal.Decimal) Money {
	return Money{d: d}.RoundToCents()
}

// NewFromCents builds Money from an integer cent count.
func NewFromCents(cents int64) Money {
	return Money{d: decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))}
}

// RoundToCents returns a copy rounded to 2 decimal places, banker's-rounding free
// (decimal.Round uses round-half-away-from-zero, matching the canonical form
// the property tests check bitwise).
func (m Money) RoundToCents() Money {
	return Money{d: m.d.Round(2)}
}

// Decimal exposes the underlying decimal value (rounded to cents).
func (m Money) Decimal() decimal.Decimal { return m.d }

// Eq reports whether two amounts are equal once both are rounded to cents.
func (m Money) Eq(o Money) bool { return m.Cmp(o) == 0 }

// Lt reports m < o.
func (m Money) Lt(o Money) bool { return m.Cmp(o) < 0 }

// Gt reports m > o.
func (m Money) Gt(o Money) bool { return m.Cmp(o) > 0 }

// Cmp returns -1, 0, or 1 comparing the canonical (2dp-rounded) amounts.
// a.Cmp(b) == 0 iff a and b share the same canonical string form.
func (m Money) Cmp(o Money) int {
	return m.RoundToCents().d.Cmp(o.RoundToCents().d)
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m.Lt(o) {
		return m
	}
	return o
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.Gt(o) {
		return m
	}
	return o
}

// Add returns m + o, rounded to cents.
func (m Money) Add(o Money) Money {
	return Money{d: m.d.Add(o.d)}.RoundToCents()
}

// Sub returns m - o, rounded to cents.
func (m Money) Sub(o Money) Money {
	return Money{d: m.d.Sub(o.d)}.RoundToCents()
}

// Sum adds a list of amounts.
func Sum(vals []Money) Money {
	total := Zero
	for _, v := range vals {
		total = total.Add(v)
	}
	return total
}

// Avg averages a list of amounts; an empty list returns Zero.
func Avg(vals []Money) Money {
	if len(vals) == 0 {
		return Zero
	}
	total := Sum(vals)
	return Money{d: total.d.Div(decimal.NewFromInt(int64(len(vals))))}.RoundToCents()
}

// Clamp constrains m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	if m.Lt(lo) {
		return lo
	}
	if m.Gt(hi) {
		return hi
	}
	return m
}

// InRange reports whether lo <= m <= hi, inclusive on both ends.
func (m Money) InRange(lo, hi Money) bool {
	return !m.Lt(lo) && !m.Gt(hi)
}

// IsZero reports whether the canonical amount is zero.
func (m Money) IsZero() bool { return m.RoundToCents().d.IsZero() }

// IsNegative reports m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// FormatUSD renders the amount as "$1,234.56".
func (m Money) FormatUSD() string {
	s := m.RoundToCents().d.StringFixed(2)
	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	for i := len(intPart) - 3; i > 0; i -= 3 {
		intPart = intPart[:i] + "," + intPart[i:]
	}
	return "$" + sign + intPart + frac
}

// String renders the canonical 2dp decimal string, e.g. "150.00".
func (m Money) String() string {
	return m.RoundToCents().d.StringFixed(2)
}

// MarshalJSON encodes Money as a JSON string in canonical 2dp form, matching
// the persisted-state convention (§6.4): decimals stored as strings.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*m = Zero
		return nil
	}
	v, err := FromAny(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value implements driver.Valuer, storing the canonical 2dp string.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner, accepting string, []byte, float64, or nil.
func (m *Money) Scan(src interface{}) error {
	v, err := FromAny(scanSource(src))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func scanSource(src interface{}) interface{} {
	switch t := src.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}
