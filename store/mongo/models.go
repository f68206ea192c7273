package mongo

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

	ID        string    `grove:"id,pk"      bson:"_id"`
	OwnerID   string    `grove:"owner_id"   bson:"owner_id"`
	Role      string    `grove:"role"       bson:"role"`
	Balance   int64     `grove:"balance"    bson:"balance"`
	Currency  string    `grove:"currency"   bson:"currency"`
	Version   int64     `grove:"version"    bson:"version"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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

// feesModel keeps the order's money breakdown in one embedded document.
type feesModel struct {
	Currency    string `bson:"currency"`
	Base        int64  `bson:"base"`
	PlatformFee int64  `bson:"platform_fee"`
	ContentFee  int64  `bson:"content_fee"`
	Total       int64  `bson:"total"`
}

type fulfillmentModel struct {
	URL   string `bson:"url"`
	Notes string `bson:"notes,omitempty"`
}

type orderModel struct {
	grove.BaseModel `grove:"table:escrow_orders"`

	ID                 string            `grove:"id,pk"                bson:"_id"`
	Number             string            `grove:"number"               bson:"number"`
	CheckoutID         string            `grove:"checkout_id"          bson:"checkout_id,omitempty"`
	BuyerAccountID     string            `grove:"buyer_account_id"     bson:"buyer_account_id"`
	PublisherAccountID string            `grove:"publisher_account_id" bson:"publisher_account_id"`
	ListingID          string            `grove:"listing_id"           bson:"listing_id"`
	Fees               feesModel         `grove:"fees"                 bson:"fees"`
	NeedsContent       bool              `grove:"needs_content"        bson:"needs_content"`
	Status             string            `grove:"status"               bson:"status"`
	ContentPayload     string            `grove:"content_payload"      bson:"content_payload,omitempty"`
	Fulfillment        *fulfillmentModel `grove:"fulfillment"          bson:"fulfillment,omitempty"`
	RejectionReason    string            `grove:"rejection_reason"     bson:"rejection_reason,omitempty"`
	AutoRefundDeadline time.Time         `grove:"auto_refund_deadline" bson:"auto_refund_deadline"`
	CompletedAt        *time.Time        `grove:"completed_at"         bson:"completed_at,omitempty"`
	RefundedAt         *time.Time        `grove:"refunded_at"          bson:"refunded_at,omitempty"`
	CancelledAt        *time.Time        `grove:"cancelled_at"         bson:"cancelled_at,omitempty"`
	Version            int64             `grove:"version"              bson:"version"`
	CreatedAt          time.Time         `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"           bson:"updated_at"`
}

func toOrderModel(o *order.Order) *orderModel {
	m := &orderModel{
		ID:                 o.ID.String(),
		Number:             o.Number,
		CheckoutID:         o.CheckoutID.String(),
		BuyerAccountID:     o.BuyerAccountID.String(),
		PublisherAccountID: o.PublisherAccountID.String(),
		ListingID:          o.ListingID,
		Fees: feesModel{
			Currency:    o.TotalAmount.Currency,
			Base:        o.BaseAmount.Amount,
			PlatformFee: o.PlatformFee.Amount,
			ContentFee:  o.ContentFee.Amount,
			Total:       o.TotalAmount.Amount,
		},
		NeedsContent:       o.NeedsContent,
		Status:             string(o.Status),
		ContentPayload:     o.ContentPayload,
		RejectionReason:    o.RejectionReason,
		AutoRefundDeadline: o.AutoRefundDeadline,
		CompletedAt:        o.CompletedAt,
		RefundedAt:         o.RefundedAt,
		CancelledAt:        o.CancelledAt,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if o.FulfillmentURL != "" {
		m.Fulfillment = &fulfillmentModel{URL: o.FulfillmentURL, Notes: o.FulfillmentNotes}
	}
	return m
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

	cur := m.Fees.Currency
	o := &order.Order{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 orderID,
		Number:             m.Number,
		CheckoutID:         checkoutID,
		BuyerAccountID:     buyerID,
		PublisherAccountID: publisherID,
		ListingID:          m.ListingID,
		BaseAmount:         types.New(m.Fees.Base, cur),
		PlatformFee:        types.New(m.Fees.PlatformFee, cur),
		ContentFee:         types.New(m.Fees.ContentFee, cur),
		TotalAmount:        types.New(m.Fees.Total, cur),
		NeedsContent:       m.NeedsContent,
		Status:             order.Status(m.Status),
		ContentPayload:     m.ContentPayload,
		RejectionReason:    m.RejectionReason,
		AutoRefundDeadline: m.AutoRefundDeadline,
		CompletedAt:        m.CompletedAt,
		RefundedAt:         m.RefundedAt,
		CancelledAt:        m.CancelledAt,
		Version:            m.Version,
	}
	if m.Fulfillment != nil {
		o.FulfillmentURL = m.Fulfillment.URL
		o.FulfillmentNotes = m.Fulfillment.Notes
	}
	return o, nil
}

// ==================== Transaction record models ====================

type recordModel struct {
	grove.BaseModel `grove:"table:escrow_transactions"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	AccountID      string    `grove:"account_id"      bson:"account_id"`
	OrderID        string    `grove:"order_id"        bson:"order_id,omitempty"`
	Kind           string    `grove:"kind"            bson:"kind"`
	Amount         int64     `grove:"amount"          bson:"amount"`
	Currency       string    `grove:"currency"        bson:"currency"`
	Description    string    `grove:"description"     bson:"description"`
	IdempotencyKey string    `grove:"idempotency_key" bson:"idempotency_key,omitempty"`
	PaymentRef     string    `grove:"payment_ref"     bson:"payment_ref,omitempty"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
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

	Key        string    `grove:"key,pk"      bson:"_id"`
	Operation  string    `grove:"operation"   bson:"operation"`
	State      string    `grove:"state"       bson:"state"`
	ResourceID string    `grove:"resource_id" bson:"resource_id,omitempty"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"  bson:"updated_at"`
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
