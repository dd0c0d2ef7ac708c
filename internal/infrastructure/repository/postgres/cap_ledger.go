package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
)

// CapLedger stores monthly spend and next-period adjustments per user, category and period.
// Remaining cap is cap + adjustment - spent.
type CapLedger struct {
	db       *sql.DB
	executor *resilience.Executor
	now      func() time.Time
}

func NewCapLedger(db *sql.DB, executor *resilience.Executor) *CapLedger {
	return &CapLedger{db: db, executor: executor, now: time.Now}
}

func (l *CapLedger) RemainingCap(ctx context.Context, key domain.CapKey, limit decimal.Decimal) (decimal.Decimal, error) {
	remaining, err := resilience.Call(ctx, l.executor, "postgres.cap_ledger.read", func(ctx context.Context) (decimal.Decimal, error) {
		var spent, adjustment decimal.Decimal
		err := l.db.QueryRowContext(ctx, `
SELECT spent, adjustment FROM cap_ledger
WHERE user_id = $1 AND category = $2 AND period = $3
`, key.UserID, string(key.Category), key.Period).Scan(&spent, &adjustment)
		if errors.Is(err, sql.ErrNoRows) {
			return limit, nil
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("read cap ledger %s: %w", key, err)
		}
		return limit.Add(adjustment).Sub(spent), nil
	}, classifyPostgresError)
	if err != nil {
		return decimal.Zero, resilience.WrapTemporary("read cap ledger", err, classifyPostgresError)
	}
	return remaining, nil
}

// Charge locks the key row, asks decide for the charge against the current remaining cap
// and writes spend and the next-period adjustment in the same transaction.
func (l *CapLedger) Charge(
	ctx context.Context,
	key domain.CapKey,
	limit decimal.Decimal,
	decide func(remaining decimal.Decimal) domain.CapCharge,
) (decimal.Decimal, error) {
	next, err := domain.NextPeriod(key.Period)
	if err != nil {
		return decimal.Zero, domain.Invalid("charge cap ledger", err.Error())
	}

	remaining, err := resilience.Call(ctx, l.executor, "postgres.cap_ledger.charge", func(ctx context.Context) (decimal.Decimal, error) {
		return l.charge(ctx, key, next, limit, decide)
	}, classifyPostgresError)
	if err != nil {
		return decimal.Zero, resilience.WrapTemporary("charge cap ledger", err, classifyPostgresError)
	}
	return remaining, nil
}

func (l *CapLedger) charge(
	ctx context.Context,
	key domain.CapKey,
	nextPeriod string,
	limit decimal.Decimal,
	decide func(remaining decimal.Decimal) domain.CapCharge,
) (decimal.Decimal, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin cap tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := l.now().UTC()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO cap_ledger (user_id, category, period, spent, adjustment, updated_at)
VALUES ($1, $2, $3, 0, 0, $4)
ON CONFLICT (user_id, category, period) DO NOTHING
`, key.UserID, string(key.Category), key.Period, now); err != nil {
		return decimal.Zero, fmt.Errorf("ensure cap row %s: %w", key, err)
	}

	var spent, adjustment decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
SELECT spent, adjustment FROM cap_ledger
WHERE user_id = $1 AND category = $2 AND period = $3
FOR UPDATE
`, key.UserID, string(key.Category), key.Period).Scan(&spent, &adjustment); err != nil {
		return decimal.Zero, fmt.Errorf("lock cap row %s: %w", key, err)
	}

	remaining := limit.Add(adjustment).Sub(spent)
	charge := decide(remaining)

	if !charge.Spend.IsZero() {
		if _, err := tx.ExecContext(ctx, `
UPDATE cap_ledger SET spent = spent + $4, updated_at = $5
WHERE user_id = $1 AND category = $2 AND period = $3
`, key.UserID, string(key.Category), key.Period, charge.Spend, now); err != nil {
			return decimal.Zero, fmt.Errorf("charge cap row %s: %w", key, err)
		}
	}
	if !charge.NextPeriodDelta.IsZero() {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cap_ledger (user_id, category, period, spent, adjustment, updated_at)
VALUES ($1, $2, $3, 0, $4, $5)
ON CONFLICT (user_id, category, period)
DO UPDATE SET adjustment = cap_ledger.adjustment + EXCLUDED.adjustment, updated_at = EXCLUDED.updated_at
`, key.UserID, string(key.Category), nextPeriod, charge.NextPeriodDelta, now); err != nil {
			return decimal.Zero, fmt.Errorf("adjust next period for %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit cap tx: %w", err)
	}
	return remaining, nil
}
