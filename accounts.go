package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/transaction"
	"github.com/xraph/escrow/types"
)

// OpenAccount creates a zero-balance account for ownerID. Opening an
// account for an owner that already has one with the same role returns
// the existing account.
func (e *Engine) OpenAccount(ctx context.Context, ownerID string, role account.Role) (*account.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalid("owner_id", "required")
	}
	if !role.Valid() {
		return nil, invalid("role", "unknown role %q", role)
	}

	a := &account.Account{
		Entity:  types.NewEntityAt(e.now().UTC()),
		ID:      id.NewAccountID(),
		OwnerID: ownerID,
		Role:    role,
		Balance: types.Zero(e.currency),
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("escrow: open account: %w", err)
		}
		existing, getErr := e.store.GetAccountByOwner(ctx, ownerID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Role != role {
			return nil, fmt.Errorf("%w: owner %s already holds a %s account", ErrAlreadyExists, ownerID, existing.Role)
		}
		return existing, nil
	}

	e.plugins.EmitAccountOpened(ctx, a)
	e.logger.Debug("account opened", "account_id", a.ID.String(), "role", string(role))
	return a, nil
}

// GetAccount retrieves an account by ID.
func (e *Engine) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// GetAccountByOwner retrieves the account held by ownerID.
func (e *Engine) GetAccountByOwner(ctx context.Context, ownerID string) (*account.Account, error) {
	return e.store.GetAccountByOwner(ctx, ownerID)
}

// ListAccounts lists accounts.
func (e *Engine) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	return e.store.ListAccounts(ctx, opts)
}

// TopUpParams is a verified payment from the gateway.
type TopUpParams struct {
	AccountID  id.AccountID
	Amount     types.Money
	PaymentRef string
	// IdempotencyKey defaults to the payment reference.
	IdempotencyKey string
}

// TopUp credits a verified external payment to an account and records it.
// A repeated top-up with the same key returns the first record.
func (e *Engine) TopUp(ctx context.Context, p TopUpParams) (*transaction.Record, error) {
	if p.AccountID.IsNil() {
		return nil, invalid("account_id", "required")
	}
	if strings.TrimSpace(p.PaymentRef) == "" {
		return nil, invalid("payment_ref", "required")
	}
	if !p.Amount.IsPositive() {
		return nil, invalid("amount", "must be positive, got %s", p.Amount)
	}
	if p.Amount.Currency != e.currency {
		return nil, fmt.Errorf("%w: wallet holds %s, got %s", ErrCurrencyMismatch, e.currency, p.Amount.Currency)
	}
	key := p.IdempotencyKey
	if key == "" {
		key = p.PaymentRef
	}

	replay, done, err := e.reserve(ctx, key, idempotency.OpTopUp)
	if err != nil {
		return nil, err
	}
	if replay != "" {
		txID, err := id.ParseTransactionID(replay)
		if err != nil {
			return nil, fmt.Errorf("%w: stored resource %q is not a record", ErrIdempotencyConflict, replay)
		}
		return e.store.GetRecord(ctx, txID)
	}

	recordKey := "topup:" + key
	err = e.settlement.post(ctx, RecordParams{
		AccountID:      p.AccountID,
		Kind:           transaction.KindCredit,
		Amount:         p.Amount,
		Description:    "Wallet top-up",
		IdempotencyKey: recordKey,
		PaymentRef:     p.PaymentRef,
	})
	var rec *transaction.Record
	if err == nil {
		rec, err = e.store.GetRecordByKey(ctx, recordKey)
	}
	resource := ""
	if rec != nil {
		resource = rec.ID.String()
	}
	done(ctx, resource, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Reconcile checks that an account's balance equals its credit records
// minus its debit records and returns ErrLedgerDrift if not.
func (e *Engine) Reconcile(ctx context.Context, accountID id.AccountID) error {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	totals, err := e.store.SumByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("escrow: sum records: %w", err)
	}
	if totals.Net() != a.Balance.Amount {
		return fmt.Errorf("%w: account %s balance %s, records net %s",
			ErrLedgerDrift, accountID, a.Balance, types.New(totals.Net(), e.currency))
	}
	return nil
}

// Records lists an account's transaction records, oldest first.
func (e *Engine) Records(ctx context.Context, accountID id.AccountID, opts transaction.ListOpts) ([]*transaction.Record, error) {
	return e.recorder.Records(ctx, accountID, opts)
}
