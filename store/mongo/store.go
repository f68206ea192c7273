package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	escrowstore "github.com/xraph/escrow/store"
	"github.com/xraph/escrow/transaction"
)

// Collection name constants.
const (
	colAccounts     = "escrow_accounts"
	colOrders       = "escrow_orders"
	colTransactions = "escrow_transactions"
	colKeys         = "escrow_idempotency_keys"
)

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all escrow collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("escrow/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toAccountModel(a)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("account %s: %w", a.OwnerID, escrow.ErrAlreadyExists)
		}
		return fmt.Errorf("escrow/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return s.findAccount(ctx, bson.M{"_id": accountID.String()})
}

func (s *Store) GetAccountByOwner(ctx context.Context, ownerID string) (*account.Account, error) {
	return s.findAccount(ctx, bson.M{"owner_id": ownerID})
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel
	filter := bson.M{}
	if opts.Role != "" {
		filter["role"] = string(opts.Role)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("escrow/mongo: list accounts: %w", err)
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
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": a.ID.String(), "version": expectedVersion}).
		Set("balance", a.Balance.Amount).
		Set("version", expectedVersion+1).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/mongo: update account: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	_, err := s.mdb.NewInsert(toOrderModel(o)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("order %s: %w", o.Number, escrow.ErrAlreadyExists)
		}
		return fmt.Errorf("escrow/mongo: create order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return s.findOrder(ctx, bson.M{"_id": orderID.String()})
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	return s.findOrder(ctx, bson.M{"number": number})
}

func (s *Store) findOrder(ctx context.Context, filter bson.M) (*order.Order, error) {
	var m orderModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrOrderNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get order: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.mdb.NewFind(&models).
		Filter(orderFilter(opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("escrow/mongo: list orders: %w", err)
	}
	return fromOrderModels(models)
}

func (s *Store) CountOrders(ctx context.Context, opts order.ListOpts) (int64, error) {
	n, err := s.mdb.Collection(colOrders).CountDocuments(ctx, orderFilter(opts))
	if err != nil {
		return 0, fmt.Errorf("escrow/mongo: count orders: %w", err)
	}
	return n, nil
}

func (s *Store) ListExpired(ctx context.Context, at time.Time, limit int) ([]*order.Order, error) {
	var models []orderModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":               string(order.StatusPending),
			"auto_refund_deadline": bson.M{"$lt": at},
		}).
		Sort(bson.D{{Key: "auto_refund_deadline", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("escrow/mongo: list expired: %w", err)
	}
	return fromOrderModels(models)
}

func (s *Store) UpdateOrder(ctx context.Context, o *order.Order, expectedVersion int64) error {
	m := toOrderModel(o)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate((*orderModel)(nil)).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Set("status", m.Status).
		Set("content_payload", m.ContentPayload).
		Set("fulfillment", m.Fulfillment).
		Set("rejection_reason", m.RejectionReason).
		Set("completed_at", m.CompletedAt).
		Set("refunded_at", m.RefundedAt).
		Set("cancelled_at", m.CancelledAt).
		Set("version", expectedVersion+1).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/mongo: update order: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	_, err := s.mdb.NewInsert(toRecordModel(r)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("record %s: %w", r.IdempotencyKey, escrow.ErrAlreadyExists)
		}
		return fmt.Errorf("escrow/mongo: append record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, txID id.TransactionID) (*transaction.Record, error) {
	return s.findRecord(ctx, bson.M{"_id": txID.String()})
}

func (s *Store) GetRecordByKey(ctx context.Context, key string) (*transaction.Record, error) {
	if key == "" {
		return nil, escrow.ErrRecordNotFound
	}
	return s.findRecord(ctx, bson.M{"idempotency_key": key})
}

func (s *Store) findRecord(ctx context.Context, filter bson.M) (*transaction.Record, error) {
	var m recordModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrRecordNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get record: %w", err)
	}
	return fromRecordModel(&m)
}

func (s *Store) ListRecords(ctx context.Context, accountID id.AccountID, opts transaction.ListOpts) ([]*transaction.Record, error) {
	var models []recordModel
	filter := bson.M{"account_id": accountID.String()}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("escrow/mongo: list records: %w", err)
	}
	return fromRecordModels(models)
}

func (s *Store) ListRecordsByOrder(ctx context.Context, orderID id.OrderID) ([]*transaction.Record, error) {
	var models []recordModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"order_id": orderID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("escrow/mongo: list order records: %w", err)
	}
	return fromRecordModels(models)
}

func (s *Store) SumByAccount(ctx context.Context, accountID id.AccountID) (transaction.Totals, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"account_id": accountID.String()}},
		bson.M{
			"$group": bson.M{
				"_id":   "$kind",
				"total": bson.M{"$sum": "$amount"},
				"count": bson.M{"$sum": 1},
			},
		},
	}

	var totals transaction.Totals
	cursor, err := s.mdb.Collection(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return totals, fmt.Errorf("escrow/mongo: sum records: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Kind  string `bson:"_id"`
		Total int64  `bson:"total"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return totals, fmt.Errorf("escrow/mongo: sum records decode: %w", err)
	}

	for _, r := range results {
		switch transaction.Kind(r.Kind) {
		case transaction.KindCredit:
			totals.Credits = r.Total
		case transaction.KindDebit:
			totals.Debits = r.Total
		}
		totals.Count += r.Count
	}
	return totals, nil
}

// ==================== Idempotency Store ====================

func (s *Store) ReserveKey(ctx context.Context, k *idempotency.Key) error {
	_, err := s.mdb.NewInsert(toKeyModel(k)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("idempotency key %s: %w", k.Key, escrow.ErrAlreadyExists)
		}
		return fmt.Errorf("escrow/mongo: reserve key: %w", err)
	}
	return nil
}

func (s *Store) GetKey(ctx context.Context, key string) (*idempotency.Key, error) {
	var m keyModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": key}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrKeyNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get key: %w", err)
	}
	return fromKeyModel(&m), nil
}

func (s *Store) CompleteKey(ctx context.Context, key, resourceID string) error {
	res, err := s.mdb.NewUpdate((*keyModel)(nil)).
		Filter(bson.M{"_id": key}).
		Set("state", string(idempotency.StateCompleted)).
		Set("resource_id", resourceID).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/mongo: complete key: %w", err)
	}
	if res.MatchedCount() == 0 {
		return escrow.ErrKeyNotFound
	}
	return nil
}

func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.mdb.NewDelete((*keyModel)(nil)).
		Filter(bson.M{"_id": key, "state": string(idempotency.StateInFlight)}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("escrow/mongo: release key: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

func orderFilter(opts order.ListOpts) bson.M {
	filter := bson.M{}
	if !opts.BuyerAccountID.IsNil() {
		filter["buyer_account_id"] = opts.BuyerAccountID.String()
	}
	if !opts.PublisherAccountID.IsNil() {
		filter["publisher_account_id"] = opts.PublisherAccountID.String()
	}
	if !opts.CheckoutID.IsNil() {
		filter["checkout_id"] = opts.CheckoutID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return filter
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

func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all escrow collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "owner_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colOrders: {
			{
				Keys:    bson.D{{Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "buyer_account_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "publisher_account_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "checkout_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "auto_refund_deadline", Value: 1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "order_id", Value: 1}}},
		},
		colKeys: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
