package ledger

import (
	"fmt"
	"math/big"
	"strings"
)

// AmountScale is the number of fractional digits between the ledger's
// smallest currency unit and the display unit.
const AmountScale = 7

var amountUnit = big.NewInt(10_000_000)

// FormatAmount renders an amount in the smallest currency unit as a
// fixed-point decimal display string with two fractional digits, matching
// how funds are presented to users.
func FormatAmount(smallest *big.Int) string {
	if smallest == nil {
		smallest = new(big.Int)
	}
	neg := smallest.Sign() < 0
	abs := new(big.Int).Abs(smallest)

	whole, frac := new(big.Int).QuoRem(abs, amountUnit, new(big.Int))
	// Two display digits: truncate the 7-digit fraction.
	cents := new(big.Int).Div(frac, big.NewInt(100_000))

	s := fmt.Sprintf("%s.%02d", whole.String(), cents.Int64())
	if neg {
		return "-" + s
	}
	return s
}

// ParseAmount converts a decimal display string into the smallest currency
// unit. At most AmountScale fractional digits are accepted; the conversion
// is exact, no floating point is involved.
func ParseAmount(display string) (*big.Int, error) {
	display = strings.TrimSpace(display)
	if display == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(display, "-") {
		neg = true
		display = display[1:]
	}
	if display == "" || display == "." {
		return nil, fmt.Errorf("invalid amount")
	}

	wholePart := display
	fracPart := ""
	if i := strings.IndexByte(display, '.'); i >= 0 {
		wholePart, fracPart = display[:i], display[i+1:]
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > AmountScale {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", display, AmountScale)
	}
	fracPart += strings.Repeat("0", AmountScale-len(fracPart))

	whole, ok := new(big.Int).SetString(wholePart, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", display)
	}
	frac, ok := new(big.Int).SetString(fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", display)
	}

	smallest := new(big.Int).Mul(whole, amountUnit)
	smallest.Add(smallest, frac)
	if neg {
		smallest.Neg(smallest)
	}
	return smallest, nil
}
