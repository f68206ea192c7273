package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/types"
)

// Wallet is the only component that changes account balances. Each
// credit or debit is a read-modify-write guarded by the account version.
//
// Wallet never writes transaction records. Callers pair every successful
// Credit or Debit with a Recorder entry of the same kind and amount.
type Wallet struct {
	accounts account.Store
	currency string
	retries  int
	backoff  time.Duration
	plugins  *plugin.Registry
	now      func() time.Time
}

// Credit adds amount to the account balance.
func (w *Wallet) Credit(ctx context.Context, accountID id.AccountID, amount types.Money) (*account.Account, error) {
	a, err := w.adjust(ctx, accountID, amount, false)
	if err != nil {
		return nil, err
	}
	w.plugins.EmitWalletCredited(ctx, accountID, amount, a.Balance)
	return a, nil
}

// Debit removes amount from the account balance. It fails with
// ErrInsufficientFunds, leaving the balance untouched, if the result
// would be negative.
func (w *Wallet) Debit(ctx context.Context, accountID id.AccountID, amount types.Money) (*account.Account, error) {
	a, err := w.adjust(ctx, accountID, amount, true)
	if err != nil {
		return nil, err
	}
	w.plugins.EmitWalletDebited(ctx, accountID, amount, a.Balance)
	return a, nil
}

// Balance returns the current balance.
func (w *Wallet) Balance(ctx context.Context, accountID id.AccountID) (types.Money, error) {
	a, err := w.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return types.Money{}, err
	}
	return a.Balance, nil
}

func (w *Wallet) adjust(ctx context.Context, accountID id.AccountID, amount types.Money, debit bool) (*account.Account, error) {
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive, got %s", amount)
	}
	if amount.Currency != w.currency {
		return nil, fmt.Errorf("%w: wallet holds %s, got %s", ErrCurrencyMismatch, w.currency, amount.Currency)
	}

	for attempt := 0; attempt < w.retries; attempt++ {
		a, err := w.accounts.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}

		next := a.Balance.Add(amount)
		if debit {
			next = a.Balance.Sub(amount)
			if next.IsNegative() {
				return nil, fmt.Errorf("%w: account %s has %s, needs %s",
					ErrInsufficientFunds, accountID, a.Balance, amount)
			}
		}

		expected := a.Version
		a.Balance = next
		a.Touch(w.now())

		err = w.accounts.UpdateAccount(ctx, a, expected)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		if err := w.pause(ctx, attempt); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: account %s after %d attempts", ErrWalletBusy, accountID, w.retries)
}

// pause sleeps for a jittered, linearly growing interval.
func (w *Wallet) pause(ctx context.Context, attempt int) error {
	if w.backoff <= 0 {
		return ctx.Err()
	}
	d := w.backoff*time.Duration(attempt+1) + rand.N(w.backoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
