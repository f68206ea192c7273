// Package memory is an in-process store backend for tests and single-node
// deployments. Every read returns a copy, so callers can only change stored
// state through the conditional update methods.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/transaction"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	accounts     map[string]*account.Account
	accountOwner map[string]string // owner ID -> account ID

	orders       map[string]*order.Order
	orderNumbers map[string]string // number -> order ID

	records    []*transaction.Record
	recordByID map[string]int
	recordKeys map[string]int

	keys map[string]*idempotency.Key
}

func New() *Store {
	return &Store{
		accounts:     make(map[string]*account.Account),
		accountOwner: make(map[string]string),
		orders:       make(map[string]*order.Order),
		orderNumbers: make(map[string]string),
		recordByID:   make(map[string]int),
		recordKeys:   make(map[string]int),
		keys:         make(map[string]*idempotency.Key),
	}
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}

	if _, exists := s.accounts[a.ID.String()]; exists {
		return fmt.Errorf("%w: account %s", escrow.ErrAlreadyExists, a.ID)
	}
	if _, exists := s.accountOwner[a.OwnerID]; exists {
		return fmt.Errorf("%w: account for owner %q", escrow.ErrAlreadyExists, a.OwnerID)
	}
	c := *a
	s.accounts[a.ID.String()] = &c
	s.accountOwner[a.OwnerID] = a.ID.String()
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return nil, escrow.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) GetAccountByOwner(_ context.Context, ownerID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accID, ok := s.accountOwner[ownerID]
	if !ok {
		return nil, escrow.ErrAccountNotFound
	}
	c := *s.accounts[accID]
	return &c, nil
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if opts.Role != "" && a.Role != opts.Role {
			continue
		}
		c := *a
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateAccount(_ context.Context, a *account.Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}

	cur, ok := s.accounts[a.ID.String()]
	if !ok {
		return escrow.ErrAccountNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: account %s at version %d, expected %d",
			escrow.ErrConcurrentModification, a.ID, cur.Version, expectedVersion)
	}
	a.Version = expectedVersion + 1
	c := *a
	s.accounts[a.ID.String()] = &c
	return nil
}

// ──────────────────────────────────────────────────
// Orders
// ──────────────────────────────────────────────────

func (s *Store) CreateOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}

	if _, exists := s.orders[o.ID.String()]; exists {
		return fmt.Errorf("%w: order %s", escrow.ErrAlreadyExists, o.ID)
	}
	if _, exists := s.orderNumbers[o.Number]; exists {
		return fmt.Errorf("%w: order number %s", escrow.ErrAlreadyExists, o.Number)
	}
	s.orders[o.ID.String()] = o.Clone()
	s.orderNumbers[o.Number] = o.ID.String()
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID.String()]
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *Store) GetOrderByNumber(_ context.Context, number string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	oid, ok := s.orderNumbers[number]
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	return s.orders[oid].Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.filterOrders(opts)
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountOrders(_ context.Context, opts order.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.filterOrders(opts))), nil
}

func (s *Store) filterOrders(opts order.ListOpts) []*order.Order {
	result := make([]*order.Order, 0)
	for _, o := range s.orders {
		if !opts.BuyerAccountID.IsNil() && o.BuyerAccountID != opts.BuyerAccountID {
			continue
		}
		if !opts.PublisherAccountID.IsNil() && o.PublisherAccountID != opts.PublisherAccountID {
			continue
		}
		if !opts.CheckoutID.IsNil() && o.CheckoutID != opts.CheckoutID {
			continue
		}
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		result = append(result, o.Clone())
	}
	return result
}

func (s *Store) ListExpired(_ context.Context, now time.Time, limit int) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*order.Order, 0)
	for _, o := range s.orders {
		if o.Status == order.StatusPending && o.AutoRefundDeadline.Before(now) {
			result = append(result, o.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AutoRefundDeadline.Before(result[j].AutoRefundDeadline)
	})
	return page(result, 0, limit), nil
}

func (s *Store) UpdateOrder(_ context.Context, o *order.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}

	cur, ok := s.orders[o.ID.String()]
	if !ok {
		return escrow.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: order %s at version %d, expected %d",
			escrow.ErrConcurrentModification, o.ID, cur.Version, expectedVersion)
	}
	o.Version = expectedVersion + 1
	s.orders[o.ID.String()] = o.Clone()
	return nil
}

// ──────────────────────────────────────────────────
// Transaction records
// ──────────────────────────────────────────────────

func (s *Store) AppendRecord(_ context.Context, r *transaction.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}

	if _, exists := s.recordByID[r.ID.String()]; exists {
		return fmt.Errorf("%w: record %s", escrow.ErrAlreadyExists, r.ID)
	}
	if r.IdempotencyKey != "" {
		if _, exists := s.recordKeys[r.IdempotencyKey]; exists {
			return fmt.Errorf("%w: record key %q", escrow.ErrAlreadyExists, r.IdempotencyKey)
		}
	}
	c := copyRecord(r)
	s.records = append(s.records, c)
	idx := len(s.records) - 1
	s.recordByID[r.ID.String()] = idx
	if r.IdempotencyKey != "" {
		s.recordKeys[r.IdempotencyKey] = idx
	}
	return nil
}

func (s *Store) GetRecord(_ context.Context, txID id.TransactionID) (*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.recordByID[txID.String()]
	if !ok {
		return nil, escrow.ErrRecordNotFound
	}
	return copyRecord(s.records[idx]), nil
}

func (s *Store) GetRecordByKey(_ context.Context, key string) (*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.recordKeys[key]
	if !ok {
		return nil, escrow.ErrRecordNotFound
	}
	return copyRecord(s.records[idx]), nil
}

// ListRecords returns records oldest first.
func (s *Store) ListRecords(_ context.Context, accountID id.AccountID, opts transaction.ListOpts) ([]*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Record, 0)
	for _, r := range s.records {
		if r.AccountID != accountID {
			continue
		}
		if opts.Kind != "" && r.Kind != opts.Kind {
			continue
		}
		result = append(result, copyRecord(r))
	}
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListRecordsByOrder(_ context.Context, orderID id.OrderID) ([]*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Record, 0)
	for _, r := range s.records {
		if r.OrderID != nil && *r.OrderID == orderID {
			result = append(result, copyRecord(r))
		}
	}
	return result, nil
}

func (s *Store) SumByAccount(_ context.Context, accountID id.AccountID) (transaction.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t transaction.Totals
	for _, r := range s.records {
		if r.AccountID != accountID {
			continue
		}
		t.Count++
		switch r.Kind {
		case transaction.KindCredit:
			t.Credits += r.Amount.Amount
		case transaction.KindDebit:
			t.Debits += r.Amount.Amount
		}
	}
	return t, nil
}

func copyRecord(r *transaction.Record) *transaction.Record {
	c := *r
	if r.OrderID != nil {
		oid := *r.OrderID
		c.OrderID = &oid
	}
	return &c
}

// ──────────────────────────────────────────────────
// Idempotency keys
// ──────────────────────────────────────────────────

func (s *Store) ReserveKey(_ context.Context, k *idempotency.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}

	if _, exists := s.keys[k.Key]; exists {
		return fmt.Errorf("%w: idempotency key %q", escrow.ErrAlreadyExists, k.Key)
	}
	c := *k
	s.keys[k.Key] = &c
	return nil
}

func (s *Store) GetKey(_ context.Context, key string) (*idempotency.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[key]
	if !ok {
		return nil, escrow.ErrKeyNotFound
	}
	c := *k
	return &c, nil
}

func (s *Store) CompleteKey(_ context.Context, key, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[key]
	if !ok {
		return escrow.ErrKeyNotFound
	}
	k.State = idempotency.StateCompleted
	k.ResourceID = resourceID
	k.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[key]; ok && k.State == idempotency.StateInFlight {
		delete(s.keys, key)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
