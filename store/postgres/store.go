package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	escrowstore "github.com/xraph/escrow/store"
	"github.com/xraph/escrow/transaction"
)

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("escrow/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.pg.NewInsert(toAccountModel(a)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create account: %w", err)
	}
	return requireInserted(res, "account "+a.OwnerID)
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", accountID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) GetAccountByOwner(ctx context.Context, ownerID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("owner_id = $1", ownerID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel
	q := s.pg.NewSelect(&models)
	if opts.Role != "" {
		q = q.Where("role = $1", string(opts.Role))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account, expectedVersion int64) error {
	t := now()
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("balance = $1", a.Balance.Amount).
		Set("version = $2", expectedVersion+1).
		Set("updated_at = $3", t).
		Where("id = $4", a.ID.String()).
		Where("version = $5", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetAccount(ctx, a.ID); err != nil {
			return err
		}
		return fmt.Errorf("account %s at version %d: %w", a.ID, expectedVersion, escrow.ErrConcurrentModification)
	}
	a.Version = expectedVersion + 1
	a.UpdatedAt = t
	return nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	res, err := s.pg.NewInsert(toOrderModel(o)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create order: %w", err)
	}
	return requireInserted(res, "order "+o.Number)
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", orderID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("number = $1", number).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	for _, f := range orderFilters(opts) {
		argIdx++
		q = q.Where(fmt.Sprintf("%s = $%d", f.column, argIdx), f.value)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromOrderModels(models)
}

func (s *Store) CountOrders(ctx context.Context, opts order.ListOpts) (int64, error) {
	query := "SELECT COUNT(*) FROM escrow_orders"
	var args []any
	for i, f := range orderFilters(opts) {
		if i == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		args = append(args, f.value)
		query += fmt.Sprintf("%s = $%d", f.column, len(args))
	}

	var count int64
	if err := s.pg.NewRaw(query, args...).Scan(ctx, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListExpired(ctx context.Context, at time.Time, limit int) ([]*order.Order, error) {
	var models []orderModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(order.StatusPending)).
		Where("auto_refund_deadline < $2", at).
		OrderExpr("auto_refund_deadline ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromOrderModels(models)
}

func (s *Store) UpdateOrder(ctx context.Context, o *order.Order, expectedVersion int64) error {
	m := toOrderModel(o)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate((*orderModel)(nil)).
		Set("status = $1", m.Status).
		Set("content_payload = $2", m.ContentPayload).
		Set("fulfillment_url = $3", m.FulfillmentURL).
		Set("fulfillment_notes = $4", m.FulfillmentNotes).
		Set("rejection_reason = $5", m.RejectionReason).
		Set("completed_at = $6", m.CompletedAt).
		Set("refunded_at = $7", m.RefundedAt).
		Set("cancelled_at = $8", m.CancelledAt).
		Set("version = $9", expectedVersion+1).
		Set("updated_at = $10", m.UpdatedAt).
		Where("id = $11", m.ID).
		Where("version = $12", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update order: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetOrder(ctx, o.ID); err != nil {
			return err
		}
		return fmt.Errorf("order %s at version %d: %w", o.Number, expectedVersion, escrow.ErrConcurrentModification)
	}
	o.Version = expectedVersion + 1
	o.UpdatedAt = m.UpdatedAt
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) AppendRecord(ctx context.Context, r *transaction.Record) error {
	res, err := s.pg.NewInsert(toRecordModel(r)).
		OnConflict("(idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: append record: %w", err)
	}
	return requireInserted(res, "record "+r.IdempotencyKey)
}

func (s *Store) GetRecord(ctx context.Context, txID id.TransactionID) (*transaction.Record, error) {
	m := new(recordModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", txID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) GetRecordByKey(ctx context.Context, key string) (*transaction.Record, error) {
	if key == "" {
		return nil, escrow.ErrRecordNotFound
	}
	m := new(recordModel)
	err := s.pg.NewSelect(m).
		Where("idempotency_key = $1", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) ListRecords(ctx context.Context, accountID id.AccountID, opts transaction.ListOpts) ([]*transaction.Record, error) {
	var models []recordModel
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID.String())
	if opts.Kind != "" {
		q = q.Where("kind = $2", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRecordModels(models)
}

func (s *Store) ListRecordsByOrder(ctx context.Context, orderID id.OrderID) ([]*transaction.Record, error) {
	var models []recordModel
	err := s.pg.NewSelect(&models).
		Where("order_id = $1", orderID.String()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromRecordModels(models)
}

func (s *Store) SumByAccount(ctx context.Context, accountID id.AccountID) (transaction.Totals, error) {
	var totals transaction.Totals
	sum := `SELECT COALESCE(SUM(amount), 0) FROM escrow_transactions WHERE account_id = $1 AND kind = $2`

	if err := s.pg.NewRaw(sum, accountID.String(), string(transaction.KindCredit)).Scan(ctx, &totals.Credits); err != nil {
		return totals, err
	}
	if err := s.pg.NewRaw(sum, accountID.String(), string(transaction.KindDebit)).Scan(ctx, &totals.Debits); err != nil {
		return totals, err
	}
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM escrow_transactions WHERE account_id = $1`, accountID.String()).
		Scan(ctx, &totals.Count)
	return totals, err
}

// ==================== Idempotency Store ====================

func (s *Store) ReserveKey(ctx context.Context, k *idempotency.Key) error {
	res, err := s.pg.NewInsert(toKeyModel(k)).
		OnConflict("(key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: reserve key: %w", err)
	}
	return requireInserted(res, "idempotency key "+k.Key)
}

func (s *Store) GetKey(ctx context.Context, key string) (*idempotency.Key, error) {
	m := new(keyModel)
	err := s.pg.NewSelect(m).
		Where("key = $1", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrKeyNotFound
		}
		return nil, err
	}
	return fromKeyModel(m), nil
}

func (s *Store) CompleteKey(ctx context.Context, key, resourceID string) error {
	res, err := s.pg.NewUpdate((*keyModel)(nil)).
		Set("state = $1", string(idempotency.StateCompleted)).
		Set("resource_id = $2", resourceID).
		Set("updated_at = $3", now()).
		Where("key = $4", key).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return escrow.ErrKeyNotFound
	}
	return nil
}

func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.pg.NewDelete((*keyModel)(nil)).
		Where("key = $1", key).
		Where("state = $2", string(idempotency.StateInFlight)).
		Exec(ctx)
	return err
}

// ==================== Helpers ====================

type filter struct {
	column string
	value  any
}

func orderFilters(opts order.ListOpts) []filter {
	var fs []filter
	if !opts.BuyerAccountID.IsNil() {
		fs = append(fs, filter{"buyer_account_id", opts.BuyerAccountID.String()})
	}
	if !opts.PublisherAccountID.IsNil() {
		fs = append(fs, filter{"publisher_account_id", opts.PublisherAccountID.String()})
	}
	if !opts.CheckoutID.IsNil() {
		fs = append(fs, filter{"checkout_id", opts.CheckoutID.String()})
	}
	if opts.Status != "" {
		fs = append(fs, filter{"status", string(opts.Status)})
	}
	return fs
}

func fromOrderModels(models []orderModel) ([]*order.Order, error) {
	result := make([]*order.Order, len(models))
	for i := range models {
		o, err := fromOrderModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

func fromRecordModels(models []recordModel) ([]*transaction.Record, error) {
	result := make([]*transaction.Record, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// requireInserted maps an insert swallowed by ON CONFLICT DO NOTHING to
// ErrAlreadyExists.
func requireInserted(res interface{ RowsAffected() (int64, error) }, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, escrow.ErrAlreadyExists)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
