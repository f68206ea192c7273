package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/escrow/id"
)

func TestPrefixedConstructors(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  id.Prefix
	}{
		{"account", id.NewAccountID, id.ParseAccountID, id.PrefixAccount},
		{"order", id.NewOrderID, id.ParseOrderID, id.PrefixOrder},
		{"transaction", id.NewTransactionID, id.ParseTransactionID, id.PrefixTransaction},
		{"checkout", id.NewCheckoutID, id.ParseCheckoutID, id.PrefixCheckout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			if !strings.HasPrefix(original.String(), string(tt.prefix)+"_") {
				t.Fatalf("String: got %q, want prefix %q", original.String(), tt.prefix)
			}
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed != original {
				t.Errorf("round trip: got %v, want %v", parsed, original)
			}
		})
	}
}

func TestParseRejectsWrongPrefix(t *testing.T) {
	if _, err := id.ParseOrderID(id.NewAccountID().String()); err == nil {
		t.Error("ParseOrderID accepted an account ID")
	}
	if _, err := id.ParseAccountID(id.NewTransactionID().String()); err == nil {
		t.Error("ParseAccountID accepted a transaction ID")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse accepted an empty string")
	}
	if _, err := id.Parse("ord_not-base32"); err == nil {
		t.Error("Parse accepted a malformed suffix")
	}
}

func TestSuffix(t *testing.T) {
	i := id.NewOrderID()
	if got := i.Suffix(); got == "" || strings.Contains(got, "_") {
		t.Errorf("Suffix: got %q", got)
	}
	if got := i.Suffix(); "ord_"+got != i.String() {
		t.Errorf("Suffix: %q does not rebuild %q", got, i.String())
	}
}

func TestNil(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Fatal("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String(): got %q", id.Nil.String())
	}
	v, err := id.Nil.Value()
	if err != nil || v != nil {
		t.Errorf("Nil.Value(): got (%v, %v), want (nil, nil)", v, err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Order id.OrderID `json:"order"`
		Empty id.ID      `json:"empty"`
	}
	in := wrapper{Order: id.NewOrderID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Order != in.Order {
		t.Errorf("Order: got %v, want %v", out.Order, in.Order)
	}
	if !out.Empty.IsNil() {
		t.Errorf("Empty: got %v, want Nil", out.Empty)
	}
}

func TestScan(t *testing.T) {
	want := id.NewAccountID()

	tests := []struct {
		name string
		src  any
		want id.ID
	}{
		{"string", want.String(), want},
		{"bytes", []byte(want.String()), want},
		{"nil", nil, id.Nil},
		{"empty", "", id.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got id.ID
			if err := got.Scan(tt.src); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("Scan(int) succeeded")
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		s := id.NewOrderID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate id %s", s)
		}
		seen[s] = struct{}{}
	}
}
