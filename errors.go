package escrow

import (
	"errors"
	"fmt"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
)

// Sentinel errors. Every error returned by the engine matches exactly one
// of the kinds below through errors.Is.
var (
	// General
	ErrNotFound      = errors.New("escrow: not found")
	ErrAlreadyExists = errors.New("escrow: already exists")
	ErrValidation    = errors.New("escrow: validation failed")
	ErrForbidden     = errors.New("escrow: forbidden")

	// Accounts and wallet
	ErrAccountNotFound   = fmt.Errorf("%w: account", ErrNotFound)
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrWalletBusy        = errors.New("escrow: wallet busy, retry the operation")
	ErrCurrencyMismatch  = errors.New("escrow: currency mismatch")

	// Orders
	ErrOrderNotFound = fmt.Errorf("%w: order", ErrNotFound)
	ErrInvalidState  = errors.New("escrow: invalid order state")

	// Transaction records
	ErrRecordNotFound = fmt.Errorf("%w: transaction record", ErrNotFound)

	// Idempotency
	ErrKeyNotFound         = fmt.Errorf("%w: idempotency key", ErrNotFound)
	ErrIdempotencyConflict = errors.New("escrow: idempotency key reused for a different request")
	ErrIdempotencyInFlight = errors.New("escrow: request with this idempotency key is still in flight")

	// Concurrency and consistency
	ErrConcurrentModification = errors.New("escrow: concurrent modification")
	ErrReconciliation         = errors.New("escrow: compensation failed, manual reconciliation required")
	ErrLedgerDrift            = errors.New("escrow: balance does not match transaction records")

	// Store
	ErrStoreClosed = errors.New("escrow: store is closed")
)

// ValidationError reports malformed input. It is returned before any store
// access and matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("escrow: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateError reports an operation attempted from the wrong order status.
// It matches ErrInvalidState.
type StateError struct {
	OrderID id.OrderID
	Op      string
	From    order.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("escrow: cannot %s order %s in status %s", e.Op, e.OrderID, e.From)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// IsNotFound reports whether err is any not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsRetryable reports whether repeating the whole call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWalletBusy) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrIdempotencyInFlight)
}
