package core

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// AmountDecimals is the number of fractional digits every Amount carries.
const AmountDecimals = 8

// amountScale is 10^AmountDecimals, the conversion factor between a whole
// coin and its mantissa.
const amountScale = 100_000_000

// Amount is a fixed-point decimal with 8 fractional digits, stored as an
// int64 mantissa (value * 10^8). All arithmetic is exact and checks for
// overflow explicitly; there is no silent wraparound and no floating point
// anywhere in the ledger.
type Amount struct {
	mantissa int64
}

// AmountZero is the additive identity.
var AmountZero = Amount{}

// NewAmountFromWhole builds an Amount from an integer number of whole coins.
func NewAmountFromWhole(whole int64) Amount {
	return Amount{mantissa: whole * amountScale}
}

// NewAmountFromMantissa builds an Amount directly from its int64 mantissa
// (value * 10^8), e.g. when decoding from the wire or from Store.
func NewAmountFromMantissa(m int64) Amount { return Amount{mantissa: m} }

// ParseAmount parses a decimal string such as "21.5" or "0.00000001" into an
// Amount, rejecting more than AmountDecimals fractional digits.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.New("amount: empty string")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac {
		if len(frac) > AmountDecimals {
			return Amount{}, fmt.Errorf("amount: more than %d fractional digits", AmountDecimals)
		}
		frac = frac + strings.Repeat("0", AmountDecimals-len(frac))
	} else {
		frac = strings.Repeat("0", AmountDecimals)
	}
	if whole == "" {
		whole = "0"
	}
	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: invalid whole part: %w", err)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: invalid fractional part: %w", err)
	}
	m, ok := mulOverflow(wholeVal, amountScale)
	if !ok {
		return Amount{}, errOverflow
	}
	m, ok = addOverflow(m, fracVal)
	if !ok {
		return Amount{}, errOverflow
	}
	if neg {
		m = -m
	}
	return Amount{mantissa: m}, nil
}

var errOverflow = errors.New("amount: overflow")

// Mantissa returns the raw int64 mantissa (value * 10^8), the canonical form
// used on the wire and in Store.
func (a Amount) Mantissa() int64 { return a.mantissa }

// MarshalJSON encodes the amount as its mantissa, a JSON integer.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(a.mantissa, 10)), nil
}

// UnmarshalJSON decodes a mantissa written by MarshalJSON.
func (a *Amount) UnmarshalJSON(data []byte) error {
	m, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("amount: invalid mantissa: %w", err)
	}
	a.mantissa = m
	return nil
}

// String renders the amount as a decimal string with up to AmountDecimals
// fractional digits, trailing zeros trimmed; a whole amount has no
// fractional part ("21", not "21.0").
func (a Amount) String() string {
	neg := a.mantissa < 0
	m := a.mantissa
	if neg {
		m = -m
	}
	whole := m / amountScale
	frac := m % amountScale
	fracStr := fmt.Sprintf("%0*d", AmountDecimals, frac)
	fracStr = strings.TrimRight(fracStr, "0")
	out := strconv.FormatInt(whole, 10)
	if fracStr != "" {
		out += "." + fracStr
	}
	if neg {
		out = "-" + out
	}
	return out
}

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a.mantissa == 0 }

// IsNegative reports whether a is strictly negative.
func (a Amount) IsNegative() bool { return a.mantissa < 0 }

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.mantissa < b.mantissa:
		return -1
	case a.mantissa > b.mantissa:
		return 1
	default:
		return 0
	}
}

// Add returns a+b, or an error on int64 overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	m, ok := addOverflow(a.mantissa, b.mantissa)
	if !ok {
		return Amount{}, errOverflow
	}
	return Amount{mantissa: m}, nil
}

// Sub returns a-b, or an error on int64 overflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	m, ok := subOverflow(a.mantissa, b.mantissa)
	if !ok {
		return Amount{}, errOverflow
	}
	return Amount{mantissa: m}, nil
}

// MulFraction multiplies a by the exact fraction num/den (both positive
// integers), used for the dynamic-fee and halving calculations. Rounds
// toward zero after the multiply, matching floor() semantics for positive
// operands. The intermediate product is computed in big.Int to avoid
// overflowing int64 before the final narrowing, which is itself checked.
func (a Amount) MulFraction(num, den int64) (Amount, error) {
	if den == 0 {
		return Amount{}, errors.New("amount: division by zero")
	}
	wide := new(big.Int).Mul(big.NewInt(a.mantissa), big.NewInt(num))
	wide.Quo(wide, big.NewInt(den))
	if !wide.IsInt64() {
		return Amount{}, errOverflow
	}
	return Amount{mantissa: wide.Int64()}, nil
}

// HalvingDivide returns floor(a / 2^shift), used by the block-reward
// schedule, clamped so it never goes negative for a non-negative a.
func (a Amount) HalvingDivide(shift uint) Amount {
	if shift >= 63 {
		return Amount{}
	}
	return Amount{mantissa: a.mantissa >> shift}
}

func addOverflow(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

func subOverflow(a, b int64) (int64, bool) {
	c := a - b
	if (b < 0 && c < a) || (b > 0 && c > a) {
		return 0, false
	}
	return c, true
}

func mulOverflow(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}

