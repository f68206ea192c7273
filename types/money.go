// Package types holds value types shared by every escrow package.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the currency's minor unit (cents, paise, pence).
// Arithmetic is integer-only; decimal strings are accepted at the edges
// through ParseMoney and produced by FormatMajor.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"` // ISO 4217, lower case
}

// New returns amount minor units of currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

func USD(cents int64) Money { return New(cents, "usd") }
func EUR(cents int64) Money { return New(cents, "eur") }
func GBP(pence int64) Money { return New(pence, "gbp") }
func INR(paise int64) Money { return New(paise, "inr") }

// Zero returns a zero amount in currency.
func Zero(currency string) Money { return New(0, currency) }

// ParseMoney converts a major-unit decimal string ("105.00", "49.5") into
// Money. Values with more precision than the currency allows are rejected
// rather than rounded.
func ParseMoney(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d, currency)
}

// FromDecimal converts a major-unit decimal into Money.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	minor := d.Shift(int32(Decimals(currency)))
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("money: %s has more than %d decimal places", d, Decimals(currency))
	}
	return New(minor.IntPart(), currency), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(Decimals(m.Currency)))
}

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add panics on a currency mismatch; callers validate currencies first.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub panics on a currency mismatch.
func (m Money) Sub(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Negate flips the sign.
func (m Money) Negate() Money { return Money{Amount: -m.Amount, Currency: m.Currency} }

// SameCurrency reports whether m and other can be combined.
func (m Money) SameCurrency(other Money) bool { return m.Currency == other.Currency }

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal compares amount and currency.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan panics on a currency mismatch.
func (m Money) LessThan(other Money) bool {
	m.mustMatch(other)
	return m.Amount < other.Amount
}

func (m Money) mustMatch(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

// Sum adds values in the given currency. An empty list is zero.
func Sum(currency string, values ...Money) Money {
	total := Zero(currency)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ──────────────────────────────────────────────────
// Formatting
// ──────────────────────────────────────────────────

// FormatMajor renders the amount in major units with the currency's
// fixed number of decimals: "105.00" for USD(10500).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(Decimals(m.Currency)))
}

// String renders the amount with a symbol, e.g. "$105.00" or "₹50.00".
func (m Money) String() string {
	if sym, ok := symbols[m.Currency]; ok {
		return sym + m.FormatMajor()
	}
	return strings.ToUpper(m.Currency) + " " + m.FormatMajor()
}

// MarshalJSON adds a display string next to the raw fields.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{m.Amount, m.Currency, m.String()})
}

var symbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"inr": "₹",
	"jpy": "¥",
}

var zeroDecimal = map[string]bool{"jpy": true, "krw": true, "vnd": true, "clp": true}

// Decimals reports the number of minor-unit digits for currency.
func Decimals(currency string) int {
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return 2
}
