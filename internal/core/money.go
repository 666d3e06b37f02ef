// Package core provides money parsing and formatting utilities.
//
// Amounts are shopspring decimals in currency units. Display formatting goes
// through go-money so symbols and grouping follow the configured currency.
package core

import (
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when no currency code is configured.
const DefaultCurrency = money.USD

// ParseAmount converts user input to a positive amount with two decimal places.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Extra fractional
// digits are rounded half-up. Signs, empty input and zero are rejected.
//
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders d with the symbol and grouping of currency, e.g. "$1,200.50".
func FormatAmount(d decimal.Decimal, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	minor := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
