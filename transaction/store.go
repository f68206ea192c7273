package transaction

import (
	"context"

	"github.com/xraph/escrow/id"
)

// Store is append-only: there are no update or delete methods.
// AppendRecord fails with an already-exists error when a record with the
// same non-empty idempotency key is present.
type Store interface {
	AppendRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, txID id.TransactionID) (*Record, error)
	GetRecordByKey(ctx context.Context, key string) (*Record, error)
	ListRecords(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Record, error)
	ListRecordsByOrder(ctx context.Context, orderID id.OrderID) ([]*Record, error)
	SumByAccount(ctx context.Context, accountID id.AccountID) (Totals, error)
}

type ListOpts struct {
	Kind   Kind
	Limit  int
	Offset int
}
