package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyDisplay(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		display string
	}{
		{"USD", USD(10500), "$105.00"},
		{"INR", INR(5000), "₹50.00"},
		{"EUR", EUR(1999), "€19.99"},
		{"JPY", New(100, "JPY"), "¥100"},
		{"unknown", New(250, "chf"), "CHF 2.50"},
		{"negative", USD(-105), "$-1.05"},
		{"zero", Zero("USD"), "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.display {
				t.Errorf("String: got %s, want %s", got, tt.display)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     Money
		wantErr  bool
	}{
		{"105.00", "usd", USD(10500), false},
		{"49.5", "usd", USD(4950), false},
		{" 7 ", "inr", INR(700), false},
		{"100", "jpy", New(100, "jpy"), false},
		{"0.001", "usd", Money{}, true},
		{"1.5", "jpy", Money{}, true},
		{"abc", "usd", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in+"/"+tt.currency, func(t *testing.T) {
			got, err := ParseMoney(tt.in, tt.currency)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	m := USD(12345)
	if got := m.Decimal(); !got.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("Decimal: got %s, want 123.45", got)
	}
	back, err := FromDecimal(m.Decimal(), "usd")
	if err != nil {
		t.Fatalf("FromDecimal: %v", err)
	}
	if !back.Equal(m) {
		t.Errorf("got %v, want %v", back, m)
	}
}

func TestMoneyArithmetic(t *testing.T) {
	if got := USD(10000).Add(USD(500)); !got.Equal(USD(10500)) {
		t.Errorf("Add: got %v", got)
	}
	if got := USD(100000).Sub(USD(10500)); !got.Equal(USD(89500)) {
		t.Errorf("Sub: got %v", got)
	}
	if got := USD(5).Negate(); !got.Equal(USD(-5)) {
		t.Errorf("Negate: got %v", got)
	}
	if got := Sum("usd", USD(1), USD(2), USD(3)); !got.Equal(USD(6)) {
		t.Errorf("Sum: got %v", got)
	}
	if got := Sum("usd"); !got.Equal(Zero("usd")) {
		t.Errorf("empty Sum: got %v", got)
	}
	if !USD(1).LessThan(USD(2)) || USD(2).LessThan(USD(2)) {
		t.Error("LessThan")
	}
	if !USD(1).IsPositive() || !USD(-1).IsNegative() || !USD(0).IsZero() {
		t.Error("predicates")
	}
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for currency mismatch")
		}
	}()
	_ = USD(100).Add(EUR(100))
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(10500))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Amount != 10500 || out.Currency != "usd" || out.Display != "$105.00" {
		t.Errorf("got %+v", out)
	}

	var m Money
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal into Money: %v", err)
	}
	if !m.Equal(USD(10500)) {
		t.Errorf("round trip: got %v", m)
	}
}
