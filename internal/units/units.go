// Package units provides checked integer arithmetic for ledger amounts and
// the conversion between integer base units and decimal display amounts.
//
// Ledger balances are uint64 base units. Overflow and underflow are never
// wrapped or saturated: they surface as fault.ErrArithmeticFault. Display
// amounts use shopspring/decimal, never float64.
package units

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/atmx/escrow-engine/internal/fault"
)

// MaxDecimals bounds the precision of a currency.
const MaxDecimals = 18

// Add returns a+b or ErrArithmeticFault on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d: %w", a, b, fault.ErrArithmeticFault)
	}
	return sum, nil
}

// Sub returns a-b or ErrArithmeticFault on underflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%d - %d: %w", a, b, fault.ErrArithmeticFault)
	}
	return diff, nil
}

// FromDecimal converts a display amount into base units using the
// currency's decimals. Negative, fractional (beyond decimals) and
// out-of-range amounts are rejected.
func FromDecimal(amount decimal.Decimal, decimals int32) (uint64, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("decimals %d: %w", decimals, fault.ErrInvalidAmount)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s: %w", amount, fault.ErrInvalidAmount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals: %w", amount, decimals, fault.ErrInvalidAmount)
	}
	if scaled.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("amount %s: %w", amount, fault.ErrArithmeticFault)
	}
	return scaled.BigInt().Uint64(), nil
}

// ToDecimal converts base units into a display amount.
func ToDecimal(n uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(n).Shift(-decimals)
}
