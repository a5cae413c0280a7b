// Package math holds value-formatting helpers for token amounts.
package math

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatUnits renders amount with decimals places shifted in, trimming
// trailing zeros: FormatUnits(1500000, 6) == "1.5".
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}

	sign := ""
	abs := new(big.Int).Abs(amount)
	if amount.Sign() < 0 {
		sign = "-"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
	return fmt.Sprintf("%s%s.%s", sign, whole, fracStr)
}

// ParseUnits is the inverse of FormatUnits: ParseUnits("1.5", 6) ==
// 1500000. Fractional digits beyond decimals are rejected rather than
// silently truncated.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	combined := whole + frac
	if combined == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		value.Neg(value)
	}
	return value, nil
}

// FormatBps renders a basis-point fee as a percentage string.
func FormatBps(bps uint16) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", float64(bps)/100), "0"), ".") + "%"
}
