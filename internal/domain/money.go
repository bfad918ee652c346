package domain

import (
	"fmt"
	"strings"
)

// DefaultCurrency is used when the menu does not declare one.
const DefaultCurrency = "EUR"

var currencySymbols = map[string]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"UAH": "₴",
	"CHF": "CHF",
}

// CurrencySymbol returns the display symbol for an ISO 4217 code, or the code itself.
func CurrencySymbol(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	if symbol, ok := currencySymbols[code]; ok {
		return symbol
	}
	return code
}

// FormatDecimal renders minor units with two decimals, e.g. 1250 -> "12.50".
func FormatDecimal(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// FormatAmount renders minor units followed by the currency symbol, e.g. "12.50€".
func FormatAmount(minor int64, currency string) string {
	return FormatDecimal(minor) + CurrencySymbol(currency)
}
