package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents) of the configured currency.
type Money int64

const minorUnitExponent = 2

var (
	maxMoney = decimal.NewFromInt(math.MaxInt64)
	one      = decimal.NewFromInt(1)
)

// ParseMoney reads a decimal major-unit string such as "500.00".
func ParseMoney(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidInput)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidInput, raw)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts a major-unit decimal to minor units without rounding.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(minorUnitExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has more than %d fractional digits", ErrInvalidInput, d.String(), minorUnitExponent)
	}
	if minor.Abs().GreaterThan(maxMoney) {
		return 0, fmt.Errorf("%w: amount %s out of range", ErrInvalidInput, d.String())
	}
	return Money(minor.IntPart()), nil
}

func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -minorUnitExponent) }

func (m Money) String() string { return m.Decimal().StringFixed(minorUnitExponent) }

// ParseRate reads a commission rate fraction such as "0.30".
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: commission rate %q", ErrInvalidInput, raw)
	}
	if err := ValidateRate(rate); err != nil {
		return decimal.Decimal{}, err
	}
	return rate, nil
}

func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return fmt.Errorf("%w: commission rate %s outside [0, 1]", ErrInvalidInput, rate.String())
	}
	return nil
}

// Commission returns gross*rate rounded half away from zero to a whole minor unit.
func Commission(gross Money, rate decimal.Decimal) (Money, error) {
	if gross < 0 {
		return 0, fmt.Errorf("%w: negative gross amount", ErrInvalidInput)
	}
	if err := ValidateRate(rate); err != nil {
		return 0, err
	}
	return Money(decimal.NewFromInt(int64(gross)).Mul(rate).Round(0).IntPart()), nil
}

// Add returns m+n or an error when the sum overflows.
func (m Money) Add(n Money) (Money, error) {
	if (n > 0 && m > math.MaxInt64-n) || (n < 0 && m < math.MinInt64-n) {
		return 0, fmt.Errorf("%w: money overflow", ErrInvalidInput)
	}
	return m + n, nil
}
