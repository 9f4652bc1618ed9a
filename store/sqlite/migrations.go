package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the betledger store (SQLite).
// Amounts are INTEGER minor units; instants are INTEGER unix nanoseconds in UTC.
var Migrations = migrate.NewGroup("betledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_betledger_accounts",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS betledger_accounts (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL DEFAULT '',
    owner_type  TEXT NOT NULL,
    owner_id    TEXT NOT NULL,
    currency    TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    UNIQUE (tenant_id, owner_type, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_betledger_accounts_tenant ON betledger_accounts (tenant_id, owner_type);

CREATE TABLE IF NOT EXISTS betledger_balances (
    account_id    TEXT PRIMARY KEY REFERENCES betledger_accounts(id),
    currency      TEXT NOT NULL,
    available     INTEGER NOT NULL DEFAULT 0,
    pending       INTEGER NOT NULL DEFAULT 0,
    locked        INTEGER NOT NULL DEFAULT 0,
    total_debits  INTEGER NOT NULL DEFAULT 0,
    total_credits INTEGER NOT NULL DEFAULT 0,
    tx_count      INTEGER NOT NULL DEFAULT 0,
    version       INTEGER NOT NULL DEFAULT 0,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS betledger_float_lines (
    tenant_id        TEXT NOT NULL,
    agent_id         TEXT NOT NULL,
    account_id       TEXT NOT NULL REFERENCES betledger_accounts(id),
    owner_type       TEXT NOT NULL,
    parent_agent_id  TEXT NOT NULL DEFAULT '',
    currency         TEXT NOT NULL,
    credit_limit     INTEGER NOT NULL DEFAULT 0,
    used_credit      INTEGER NOT NULL DEFAULT 0,
    collateral_ratio TEXT NOT NULL DEFAULT '0',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, agent_id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				for _, table := range []string{"betledger_float_lines", "betledger_balances", "betledger_accounts"} {
					if _, err := exec.Exec(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&migrate.Migration{
			Name:    "create_betledger_ledger",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS betledger_transactions (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    type            TEXT NOT NULL,
    reference       TEXT NOT NULL DEFAULT '',
    reversal_of     TEXT,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      INTEGER NOT NULL,
    UNIQUE (tenant_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_betledger_transactions_reversal ON betledger_transactions (reversal_of);

CREATE TABLE IF NOT EXISTS betledger_entries (
    id             TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL REFERENCES betledger_transactions(id),
    seq            INTEGER NOT NULL,
    tenant_id      TEXT NOT NULL,
    account_id     TEXT NOT NULL REFERENCES betledger_accounts(id),
    direction      TEXT NOT NULL,
    amount         INTEGER NOT NULL,
    currency       TEXT NOT NULL,
    bucket         TEXT NOT NULL,
    type           TEXT NOT NULL,
    reference      TEXT NOT NULL DEFAULT '',
    balance_after  INTEGER NOT NULL,
    created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_betledger_entries_account ON betledger_entries (account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_betledger_entries_tenant ON betledger_entries (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_betledger_entries_txn ON betledger_entries (transaction_id, seq);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				for _, table := range []string{"betledger_entries", "betledger_transactions"} {
					if _, err := exec.Exec(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&migrate.Migration{
			Name:    "create_betledger_bets",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS betledger_bets (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    player_id       TEXT NOT NULL DEFAULT '',
    agent_id        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    currency        TEXT NOT NULL,
    stake_amount    INTEGER NOT NULL,
    payout_amount   INTEGER NOT NULL DEFAULT 0,
    settled_at      INTEGER,
    doc             TEXT NOT NULL,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL,
    UNIQUE (tenant_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_betledger_bets_player ON betledger_bets (tenant_id, player_id);
CREATE INDEX IF NOT EXISTS idx_betledger_bets_settled ON betledger_bets (tenant_id, agent_id, settled_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS betledger_bets`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_betledger_commissions",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS betledger_commissions (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL,
    agent_id       TEXT NOT NULL,
    settlement_key TEXT NOT NULL,
    status         TEXT NOT NULL,
    period_start   INTEGER NOT NULL,
    period_end     INTEGER NOT NULL,
    doc            TEXT NOT NULL,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    UNIQUE (tenant_id, settlement_key)
);

CREATE INDEX IF NOT EXISTS idx_betledger_commissions_agent ON betledger_commissions (tenant_id, agent_id, period_start);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS betledger_commissions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_betledger_policies",
			Version: "20260301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS betledger_policies (
    id             TEXT NOT NULL,
    tenant_id      TEXT NOT NULL,
    version        INTEGER NOT NULL,
    effective_from INTEGER NOT NULL,
    doc            TEXT NOT NULL,
    created_at     INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, version)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS betledger_policies`)
				return err
			},
		},
	)
}
