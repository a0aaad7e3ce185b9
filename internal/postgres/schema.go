package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Timestamps are TEXT in "YYYY-MM-DDTHH:MM:SS" (UTC) so lexical order is
// chronological order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id        BIGINT PRIMARY KEY,
		username       TEXT NOT NULL DEFAULT '',
		first_name     TEXT NOT NULL DEFAULT '',
		wallet_balance BIGINT NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
		ref_by         BIGINT,
		ref_count      BIGINT NOT NULL DEFAULT 0,
		earnings_total BIGINT NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                      BIGSERIAL PRIMARY KEY,
		user_id                 BIGINT NOT NULL REFERENCES users(user_id),
		username                TEXT NOT NULL DEFAULT '',
		first_name              TEXT NOT NULL DEFAULT '',
		plan_title              TEXT NOT NULL DEFAULT '',
		amount_total            BIGINT NOT NULL DEFAULT 0,
		currency                TEXT NOT NULL DEFAULT '',
		service_category        TEXT NOT NULL DEFAULT '',
		service_code            TEXT NOT NULL DEFAULT '',
		account_mode            TEXT NOT NULL DEFAULT '',
		customer_email          TEXT NOT NULL DEFAULT '',
		notes                   TEXT NOT NULL DEFAULT '',
		customer_secret         TEXT NOT NULL DEFAULT '',
		require_username        BOOLEAN NOT NULL DEFAULT FALSE,
		require_password        BOOLEAN NOT NULL DEFAULT FALSE,
		customer_username       TEXT NOT NULL DEFAULT '',
		customer_password       TEXT NOT NULL DEFAULT '',
		allow_first_plan        BOOLEAN NOT NULL DEFAULT FALSE,
		cashback_percent        BIGINT NOT NULL DEFAULT 0,
		cashback_applied_amount BIGINT NOT NULL DEFAULT 0,
		discount_id             BIGINT,
		discount_code           TEXT NOT NULL DEFAULT '',
		discount_amount         BIGINT NOT NULL DEFAULT 0,
		status                  TEXT NOT NULL DEFAULT 'AWAITING_PAYMENT',
		payment_type            TEXT,
		wallet_reserved_amount  BIGINT NOT NULL DEFAULT 0,
		wallet_used_amount      BIGINT NOT NULL DEFAULT 0,
		await_deadline          TEXT,
		receipt_file_id         TEXT NOT NULL DEFAULT '',
		receipt_text            TEXT NOT NULL DEFAULT '',
		receipt_kind            TEXT NOT NULL DEFAULT '',
		customer_message        TEXT NOT NULL DEFAULT '',
		manager_note            TEXT NOT NULL DEFAULT '',
		cost_amount             BIGINT NOT NULL DEFAULT 0,
		created_at              TEXT NOT NULL,
		updated_at              TEXT NOT NULL,
		CHECK (wallet_reserved_amount >= 0 AND wallet_used_amount >= 0),
		CHECK (wallet_reserved_amount + wallet_used_amount <= amount_total),
		CHECK (discount_amount >= 0 AND discount_amount <= amount_total)
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_idx ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS orders_await_idx ON orders(status, await_deadline)`,
	`CREATE TABLE IF NOT EXISTS wallet_tx (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(user_id),
		order_id   BIGINT,
		amount     BIGINT NOT NULL CHECK (amount >= 0),
		type       TEXT NOT NULL CHECK (type IN ('CREDIT','DEBIT','RESERVE','REFUND')),
		note       TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_tx_user_idx ON wallet_tx(user_id, id)`,
	`CREATE INDEX IF NOT EXISTS wallet_tx_order_idx ON wallet_tx(order_id)`,
	`CREATE TABLE IF NOT EXISTS order_manager_messages (
		id           BIGSERIAL PRIMARY KEY,
		order_id     BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		user_id      BIGINT,
		message_text TEXT NOT NULL,
		created_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id                   BIGSERIAL PRIMARY KEY,
		code                 TEXT NOT NULL,
		amount               BIGINT NOT NULL,
		usage_limit          BIGINT NOT NULL DEFAULT 0,
		usage_limit_per_user BIGINT NOT NULL DEFAULT 1,
		used_count           BIGINT NOT NULL DEFAULT 0,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at           TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS coupons_code_key ON coupons(UPPER(code))`,
	`CREATE TABLE IF NOT EXISTS coupon_redemptions (
		id          BIGSERIAL PRIMARY KEY,
		coupon_id   BIGINT NOT NULL REFERENCES coupons(id) ON DELETE CASCADE,
		user_id     BIGINT NOT NULL,
		order_id    BIGINT,
		amount      BIGINT NOT NULL,
		times_used  BIGINT NOT NULL DEFAULT 1,
		redeemed_at TEXT NOT NULL,
		UNIQUE (coupon_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS discounts (
		id                   BIGSERIAL PRIMARY KEY,
		code                 TEXT NOT NULL,
		amount               BIGINT NOT NULL,
		usage_limit          BIGINT NOT NULL DEFAULT 0,
		usage_limit_per_user BIGINT NOT NULL DEFAULT 1,
		used_count           BIGINT NOT NULL DEFAULT 0,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at           TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL,
		applies_all          BOOLEAN NOT NULL DEFAULT TRUE,
		product_ids          BIGINT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS discounts_code_key ON discounts(UPPER(code))`,
	`CREATE TABLE IF NOT EXISTS discount_redemptions (
		id          BIGSERIAL PRIMARY KEY,
		discount_id BIGINT NOT NULL REFERENCES discounts(id) ON DELETE CASCADE,
		user_id     BIGINT NOT NULL,
		order_id    BIGINT,
		amount      BIGINT NOT NULL,
		times_used  BIGINT NOT NULL DEFAULT 1,
		redeemed_at TEXT NOT NULL,
		UNIQUE (discount_id, user_id)
	)`,
}

// EnsureSchema creates missing tables and indexes. Safe to run on every boot.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema stmt %d: %w", i, err)
		}
	}
	return nil
}
