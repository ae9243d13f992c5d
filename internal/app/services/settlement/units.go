package settlement

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal string such as "1.5" into base units with the
// given number of decimals, exactly. "1.5" with 6 decimals yields 1500000.
// Amounts with more fractional digits than the token supports are rejected
// rather than truncated.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimals %d", decimals)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("amount %s is not positive", amount)
	}
	return units, nil
}
