// Package id defines the TypeID identifiers used by escrow entities.
//
// An identifier is rendered as "prefix_suffix" where the suffix is a
// K-sortable UUIDv7 in base32. The prefix names the entity kind, so an order
// ID can never be mistaken for an account ID once parsed with its prefix.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity kind encoded in an ID.
type Prefix string

const (
	PrefixAccount     Prefix = "acct"
	PrefixOrder       Prefix = "ord"
	PrefixTransaction Prefix = "txn"
	PrefixCheckout    Prefix = "chk"
)

// ID is a prefix-qualified, globally unique identifier.
//
//nolint:recvcheck // pointer receivers only where decoding mutates the value
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero ID. It stores as NULL and renders as "".
var Nil ID

// New generates an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse decodes any well-formed TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix decodes s and rejects it unless its prefix is want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", want, got)
	}
	return parsed, nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Entity aliases
// ──────────────────────────────────────────────────

// AccountID identifies a wallet account ("acct").
type AccountID = ID

// OrderID identifies an order ("ord").
type OrderID = ID

// TransactionID identifies an immutable transaction record ("txn").
type TransactionID = ID

// CheckoutID groups the orders created by one checkout ("chk").
type CheckoutID = ID

func NewAccountID() ID     { return New(PrefixAccount) }
func NewOrderID() ID       { return New(PrefixOrder) }
func NewTransactionID() ID { return New(PrefixTransaction) }
func NewCheckoutID() ID    { return New(PrefixCheckout) }

func ParseAccountID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixAccount) }
func ParseOrderID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixOrder) }
func ParseTransactionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransaction) }
func ParseCheckoutID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixCheckout) }

// ──────────────────────────────────────────────────
// Methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// Suffix returns the base32 part after the prefix separator.
func (i ID) Suffix() string {
	s := i.String()
	if n := strings.LastIndexByte(s, '_'); n >= 0 {
		return s[n+1:]
	}
	return s
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer; Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
