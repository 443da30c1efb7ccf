package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Credits store (SQLite).
var Migrations = migrate.NewGroup("credits")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_credits_accounts",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_accounts (
    id             TEXT PRIMARY KEY,
    email          TEXT NOT NULL DEFAULT '',
    name           TEXT NOT NULL DEFAULT '',
    credit_balance INTEGER NOT NULL DEFAULT 0,
    referral_code  TEXT NOT NULL DEFAULT '',
    referred_by    TEXT NOT NULL DEFAULT '',
    auth_method    TEXT NOT NULL DEFAULT '',
    customer_ref   TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_accounts_customer ON credits_accounts (customer_ref) WHERE customer_ref != '';
CREATE INDEX IF NOT EXISTS idx_credits_accounts_email ON credits_accounts (email);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_entries",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_entries (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    delta           INTEGER NOT NULL DEFAULT 0,
    reason          TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL DEFAULT '',
    meta            TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_credits_entries_account ON credits_entries (account_id, id DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_entries_idempotency ON credits_entries (account_id, idempotency_key) WHERE idempotency_key != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_artifacts",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_artifacts (
    id            TEXT PRIMARY KEY,
    account_id    TEXT NOT NULL,
    workflow_id   TEXT NOT NULL DEFAULT '',
    kind          TEXT NOT NULL DEFAULT '',
    storage_key   TEXT NOT NULL DEFAULT '',
    downloaded    INTEGER NOT NULL DEFAULT 0,
    downloaded_at TEXT,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_credits_artifacts_account ON credits_artifacts (account_id);
CREATE INDEX IF NOT EXISTS idx_credits_artifacts_workflow ON credits_artifacts (workflow_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_artifacts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_subscriptions",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_subscriptions (
    id                   TEXT PRIMARY KEY,
    account_id           TEXT NOT NULL,
    plan_name            TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'incomplete',
    provider_ref         TEXT NOT NULL DEFAULT '',
    current_period_start TEXT NOT NULL DEFAULT (datetime('now')),
    current_period_end   TEXT NOT NULL DEFAULT (datetime('now')),
    pending_plan         TEXT NOT NULL DEFAULT '',
    canceled_at          TEXT,
    metadata             TEXT NOT NULL DEFAULT '{}',
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_subs_account_plan ON credits_subscriptions (account_id, plan_name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_subs_provider ON credits_subscriptions (provider_ref) WHERE provider_ref != '';
CREATE INDEX IF NOT EXISTS idx_credits_subs_status ON credits_subscriptions (account_id, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_subscriptions`)
				return err
			},
		},
	)
}
