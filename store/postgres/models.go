package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/transaction"
	"github.com/xraph/escrow/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:escrow_accounts"`

	ID        string    `grove:"id,pk"`
	OwnerID   string    `grove:"owner_id"`
	Role      string    `grove:"role"`
	Balance   int64     `grove:"balance"`
	Currency  string    `grove:"currency"`
	Version   int64     `grove:"version"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:        a.ID.String(),
		OwnerID:   a.OwnerID,
		Role:      string(a.Role),
		Balance:   a.Balance.Amount,
		Currency:  a.Balance.Currency,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:  types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:      accountID,
		OwnerID: m.OwnerID,
		Role:    account.Role(m.Role),
		Balance: types.New(m.Balance, m.Currency),
		Version: m.Version,
	}, nil
}

// ==================== Order models ====================

type orderModel struct {
	grove.BaseModel `grove:"table:escrow_orders"`

	ID                 string     `grove:"id,pk"`
	Number             string     `grove:"number"`
	CheckoutID         string     `grove:"checkout_id"`
	BuyerAccountID     string     `grove:"buyer_account_id"`
	PublisherAccountID string     `grove:"publisher_account_id"`
	ListingID          string     `grove:"listing_id"`
	Currency           string     `grove:"currency"`
	BaseAmount         int64      `grove:"base_amount"`
	PlatformFee        int64      `grove:"platform_fee"`
	ContentFee         int64      `grove:"content_fee"`
	TotalAmount        int64      `grove:"total_amount"`
	NeedsContent       bool       `grove:"needs_content"`
	Status             string     `grove:"status"`
	ContentPayload     string     `grove:"content_payload"`
	FulfillmentURL     string     `grove:"fulfillment_url"`
	FulfillmentNotes   string     `grove:"fulfillment_notes"`
	RejectionReason    string     `grove:"rejection_reason"`
	AutoRefundDeadline time.Time  `grove:"auto_refund_deadline"`
	CompletedAt        *time.Time `grove:"completed_at"`
	RefundedAt         *time.Time `grove:"refunded_at"`
	CancelledAt        *time.Time `grove:"cancelled_at"`
	Version            int64      `grove:"version"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID:                 o.ID.String(),
		Number:             o.Number,
		CheckoutID:         o.CheckoutID.String(),
		BuyerAccountID:     o.BuyerAccountID.String(),
		PublisherAccountID: o.PublisherAccountID.String(),
		ListingID:          o.ListingID,
		Currency:           o.TotalAmount.Currency,
		BaseAmount:         o.BaseAmount.Amount,
		PlatformFee:        o.PlatformFee.Amount,
		ContentFee:         o.ContentFee.Amount,
		TotalAmount:        o.TotalAmount.Amount,
		NeedsContent:       o.NeedsContent,
		Status:             string(o.Status),
		ContentPayload:     o.ContentPayload,
		FulfillmentURL:     o.FulfillmentURL,
		FulfillmentNotes:   o.FulfillmentNotes,
		RejectionReason:    o.RejectionReason,
		AutoRefundDeadline: o.AutoRefundDeadline,
		CompletedAt:        o.CompletedAt,
		RefundedAt:         o.RefundedAt,
		CancelledAt:        o.CancelledAt,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, err
	}
	buyerID, err := id.ParseAccountID(m.BuyerAccountID)
	if err != nil {
		return nil, err
	}
	publisherID, err := id.ParseAccountID(m.PublisherAccountID)
	if err != nil {
		return nil, err
	}
	var checkoutID id.CheckoutID
	if m.CheckoutID != "" {
		if checkoutID, err = id.ParseCheckoutID(m.CheckoutID); err != nil {
			return nil, err
		}
	}

	return &order.Order{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 orderID,
		Number:             m.Number,
		CheckoutID:         checkoutID,
		BuyerAccountID:     buyerID,
		PublisherAccountID: publisherID,
		ListingID:          m.ListingID,
		BaseAmount:         types.New(m.BaseAmount, m.Currency),
		PlatformFee:        types.New(m.PlatformFee, m.Currency),
		ContentFee:         types.New(m.ContentFee, m.Currency),
		TotalAmount:        types.New(m.TotalAmount, m.Currency),
		NeedsContent:       m.NeedsContent,
		Status:             order.Status(m.Status),
		ContentPayload:     m.ContentPayload,
		FulfillmentURL:     m.FulfillmentURL,
		FulfillmentNotes:   m.FulfillmentNotes,
		RejectionReason:    m.RejectionReason,
		AutoRefundDeadline: m.AutoRefundDeadline,
		CompletedAt:        m.CompletedAt,
		RefundedAt:         m.RefundedAt,
		CancelledAt:        m.CancelledAt,
		Version:            m.Version,
	}, nil
}

// ==================== Transaction record models ====================

type recordModel struct {
	grove.BaseModel `grove:"table:escrow_transactions"`

	ID             string    `grove:"id,pk"`
	AccountID      string    `grove:"account_id"`
	OrderID        string    `grove:"order_id"`
	Kind           string    `grove:"kind"`
	Amount         int64     `grove:"amount"`
	Currency       string    `grove:"currency"`
	Description    string    `grove:"description"`
	IdempotencyKey string    `grove:"idempotency_key"`
	PaymentRef     string    `grove:"payment_ref"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toRecordModel(r *transaction.Record) *recordModel {
	m := &recordModel{
		ID:             r.ID.String(),
		AccountID:      r.AccountID.String(),
		Kind:           string(r.Kind),
		Amount:         r.Amount.Amount,
		Currency:       r.Amount.Currency,
		Description:    r.Description,
		IdempotencyKey: r.IdempotencyKey,
		PaymentRef:     r.PaymentRef,
		CreatedAt:      r.CreatedAt,
	}
	if r.OrderID != nil {
		m.OrderID = r.OrderID.String()
	}
	return m
}

func fromRecordModel(m *recordModel) (*transaction.Record, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	r := &transaction.Record{
		ID:             txID,
		AccountID:      accountID,
		Kind:           transaction.Kind(m.Kind),
		Amount:         types.New(m.Amount, m.Currency),
		Description:    m.Description,
		IdempotencyKey: m.IdempotencyKey,
		PaymentRef:     m.PaymentRef,
		CreatedAt:      m.CreatedAt,
	}
	if m.OrderID != "" {
		orderID, err := id.ParseOrderID(m.OrderID)
		if err != nil {
			return nil, err
		}
		r.OrderID = &orderID
	}
	return r, nil
}

// ==================== Idempotency key models ====================

type keyModel struct {
	grove.BaseModel `grove:"table:escrow_idempotency_keys"`

	Key        string    `grove:"key,pk"`
	Operation  string    `grove:"operation"`
	State      string    `grove:"state"`
	ResourceID string    `grove:"resource_id"`
	CreatedAt  time.Time `grove:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"`
}

func toKeyModel(k *idempotency.Key) *keyModel {
	return &keyModel{
		Key:        k.Key,
		Operation:  string(k.Operation),
		State:      string(k.State),
		ResourceID: k.ResourceID,
		CreatedAt:  k.CreatedAt,
		UpdatedAt:  k.UpdatedAt,
	}
}

func fromKeyModel(m *keyModel) *idempotency.Key {
	return &idempotency.Key{
		Key:        m.Key,
		Operation:  idempotency.Operation(m.Operation),
		State:      idempotency.State(m.State),
		ResourceID: m.ResourceID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
