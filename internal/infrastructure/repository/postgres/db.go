package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
)

const schemaLockID int64 = 2026101901

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS claims (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	amount NUMERIC(14,2) NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	expense_date TEXT NOT NULL DEFAULT '',
	merchant TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	status_reason TEXT NOT NULL DEFAULT '',
	receipt_ref JSONB,
	extraction JSONB,
	allocation JSONB NOT NULL,
	cap_mode TEXT NOT NULL DEFAULT 'cap_only',
	supervision_level TEXT NOT NULL DEFAULT 'none',
	legal_review_required BOOLEAN NOT NULL DEFAULT FALSE,
	reimbursable_amount NUMERIC(14,2),
	policy_flags JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_owner_created ON claims(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);

CREATE TABLE IF NOT EXISTS cap_ledger (
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	period TEXT NOT NULL,
	spent NUMERIC(14,2) NOT NULL DEFAULT 0,
	adjustment NUMERIC(14,2) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, category, period)
);

CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	leader_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS team_members (
	team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	PRIMARY KEY (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS expense_groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL REFERENCES expense_groups(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	position INT NOT NULL DEFAULT 0,
	invited_by TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (group_id, user_id)
);

ALTER TABLE group_members ADD COLUMN IF NOT EXISTS invited_by TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id, status);
CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);

CREATE TABLE IF NOT EXISTS user_permissions (
	user_id TEXT NOT NULL,
	permission TEXT NOT NULL,
	PRIMARY KEY (user_id, permission)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// classifyPostgresError retries connection loss, serialization failures and deadlocks.
func classifyPostgresError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrNotFound) || domain.IsKind(err, domain.ErrConflict) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01", pgErr.Code == "53300":
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case strings.HasPrefix(pgErr.Code, "08"):
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{RecordFailure: false}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}
