package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Schema is applied statement by statement by Migrate and is safe to rerun.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS invite_groups (
		invite_code STRING PRIMARY KEY,
		host_id UUID NOT NULL,
		showtime_id UUID NOT NULL,
		owner_id UUID NOT NULL,
		requested_seats JSONB NOT NULL,
		total_slots INT8 NOT NULL CHECK (total_slots >= 0),
		available_slots INT8 NOT NULL CHECK (available_slots >= 0 AND available_slots <= total_slots),
		participants JSONB NOT NULL,
		total_amount INT8 NOT NULL CHECK (total_amount >= 0),
		paid_amount INT8 NOT NULL CHECK (paid_amount >= 0 AND paid_amount <= total_amount),
		price_breakdown JSONB NOT NULL,
		coupon_used STRING NOT NULL DEFAULT '',
		status STRING NOT NULL CHECK (status IN ('pending', 'active', 'payment_pending', 'completed', 'cancelled', 'expired')),
		expires_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		version INT8 NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		INDEX invite_groups_expiry_idx (status, expires_at)
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		owner_kind STRING NOT NULL CHECK (owner_kind IN ('User', 'Owner', 'Admin')),
		balance INT8 NOT NULL,
		currency STRING NOT NULL,
		status STRING NOT NULL CHECK (status IN ('active', 'frozen', 'closed')),
		version INT8 NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, owner_kind)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		wallet_id UUID NOT NULL REFERENCES wallets (id),
		type STRING NOT NULL CHECK (type IN ('credit', 'debit')),
		amount INT8 NOT NULL CHECK (amount > 0),
		balance_before INT8 NOT NULL,
		balance_after INT8 NOT NULL,
		currency STRING NOT NULL,
		category STRING NOT NULL,
		status STRING NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
		metadata JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		INDEX transactions_wallet_idx (wallet_id, created_at DESC)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type STRING NOT NULL,
		aggregate_id STRING NOT NULL,
		event_type STRING NOT NULL,
		payload_json JSONB NOT NULL,
		status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		attempts INT8 NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		dedupe_key STRING NOT NULL UNIQUE,
		INDEX outbox_pending_idx (status, created_at)
	)`,
}

func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
