// Package currency formats integer minor-unit amounts.
package currency

import (
	"fmt"
	"strings"
)

// noDivisionCurrencies are zero-decimal currencies whose amounts are not
// divided when formatted.
var noDivisionCurrencies = map[string]bool{
	"BIF": true,
	"CLP": true,
	"DJF": true,
	"GNF": true,
	"JPY": true,
	"KMF": true,
	"KRW": true,
	"MGA": true,
	"PYG": true,
	"RWF": true,
	"UGX": true,
	"VND": true,
	"VUV": true,
	"XAF": true,
	"XOF": true,
	"XPF": true,
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(code string) bool {
	return noDivisionCurrencies[Normalize(code)]
}

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Format renders a minor-unit amount as a human-readable string, e.g.
// Format(1050, "USD") == "10.50 USD" and Format(1050, "JPY") == "1050 JPY".
func Format(amount int64, code string) string {
	code = Normalize(code)
	if noDivisionCurrencies[code] {
		return fmt.Sprintf("%d %s", amount, code)
	}

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, code)
}
