package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the escrow store (SQLite).
var Migrations = migrate.NewGroup("escrow")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_escrow_accounts",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_accounts (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    role       TEXT NOT NULL,
    balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    currency   TEXT NOT NULL,
    version    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_escrow_accounts_owner ON escrow_accounts (owner_id);
CREATE INDEX IF NOT EXISTS idx_escrow_accounts_role ON escrow_accounts (role);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS escrow_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_escrow_orders",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_orders (
    id                   TEXT PRIMARY KEY,
    number               TEXT NOT NULL,
    checkout_id          TEXT NOT NULL DEFAULT '',
    buyer_account_id     TEXT NOT NULL REFERENCES escrow_accounts (id),
    publisher_account_id TEXT NOT NULL REFERENCES escrow_accounts (id),
    listing_id           TEXT NOT NULL,
    currency             TEXT NOT NULL,
    base_amount          INTEGER NOT NULL CHECK (base_amount > 0),
    platform_fee         INTEGER NOT NULL DEFAULT 0,
    content_fee          INTEGER NOT NULL DEFAULT 0,
    total_amount         INTEGER NOT NULL,
    needs_content        INTEGER NOT NULL DEFAULT 0,
    status               TEXT NOT NULL DEFAULT 'pending',
    content_payload      TEXT NOT NULL DEFAULT '',
    fulfillment_url      TEXT NOT NULL DEFAULT '',
    fulfillment_notes    TEXT NOT NULL DEFAULT '',
    rejection_reason     TEXT NOT NULL DEFAULT '',
    auto_refund_deadline TEXT NOT NULL,
    completed_at         TEXT,
    refunded_at          TEXT,
    cancelled_at         TEXT,
    version              INTEGER NOT NULL DEFAULT 0,
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_escrow_orders_number ON escrow_orders (number);
CREATE INDEX IF NOT EXISTS idx_escrow_orders_buyer ON escrow_orders (buyer_account_id);
CREATE INDEX IF NOT EXISTS idx_escrow_orders_publisher ON escrow_orders (publisher_account_id);
CREATE INDEX IF NOT EXISTS idx_escrow_orders_checkout ON escrow_orders (checkout_id);
CREATE INDEX IF NOT EXISTS idx_escrow_orders_expiry ON escrow_orders (status, auto_refund_deadline);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS escrow_orders`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_escrow_transactions",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_transactions (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES escrow_accounts (id),
    order_id        TEXT NOT NULL DEFAULT '',
    kind            TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
    amount          INTEGER NOT NULL CHECK (amount > 0),
    currency        TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL DEFAULT '',
    payment_ref     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_escrow_transactions_key ON escrow_transactions (idempotency_key) WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_escrow_transactions_account ON escrow_transactions (account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_escrow_transactions_order ON escrow_transactions (order_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS escrow_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_escrow_idempotency_keys",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_idempotency_keys (
    key         TEXT PRIMARY KEY,
    operation   TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'in_flight',
    resource_id TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS escrow_idempotency_keys`)
				return err
			},
		},
	)
}
