package rewards

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// The coin carries two implied decimal places, matching fiat-cent
// granularity: one whole coin is 100 minor units.
var minorFactor = decimal.NewFromInt(100)

// ToMinorUnits converts a display amount to ledger minor units with the
// canonical rounding rule: multiply by 100, truncate toward zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorFactor).IntPart()
}

// FromMinorUnits converts ledger minor units back to a display amount.
func FromMinorUnits(value int64) decimal.Decimal {
	return decimal.NewFromInt(value).Div(minorFactor)
}

// ParseAmount parses a user-supplied decimal amount. Comma decimal separators
// are accepted ("12,50" reads as 12.50).
func ParseAmount(raw string) (decimal.Decimal, error) {
	normalized := strings.Replace(strings.TrimSpace(raw), ",", ".", 1)
	if normalized == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return amount, nil
}
