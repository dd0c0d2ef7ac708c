package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

func newLedgerWithMock(t *testing.T) (*CapLedger, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewCapLedger(db, nil), mock, func() { _ = db.Close() }
}

var softwareKey = domain.CapKey{UserID: "alice", Category: domain.CategorySoftware, Period: "2026-03"}

func TestRemainingCapWithoutRowIsFullCap(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT spent, adjustment FROM cap_ledger").
		WithArgs("alice", "Software", "2026-03").
		WillReturnError(sql.ErrNoRows)

	got, err := ledger.RemainingCap(context.Background(), softwareKey, decimal.NewFromInt(20))
	if err != nil || !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 20, got %s %v", got, err)
	}
}

func TestRemainingCapAppliesAdjustment(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT spent, adjustment FROM cap_ledger").
		WithArgs("alice", "Software", "2026-04").
		WillReturnRows(sqlmock.NewRows([]string{"spent", "adjustment"}).AddRow("0", "-15"))

	key := softwareKey
	key.Period = "2026-04"
	got, err := ledger.RemainingCap(context.Background(), key, decimal.NewFromInt(20))
	if err != nil || !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5, got %s %v", got, err)
	}
}

func TestChargeWritesSpendAndNextPeriodInOneTransaction(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cap_ledger").
		WithArgs("alice", "Software", "2026-03", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT spent, adjustment FROM cap_ledger").
		WithArgs("alice", "Software", "2026-03").
		WillReturnRows(sqlmock.NewRows([]string{"spent", "adjustment"}).AddRow("0", "0"))
	mock.ExpectExec("UPDATE cap_ledger SET spent").
		WithArgs("alice", "Software", "2026-03", decimal.NewFromInt(20), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO cap_ledger").
		WithArgs("alice", "Software", "2026-04", decimal.NewFromInt(-15), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen decimal.Decimal
	remaining, err := ledger.Charge(context.Background(), softwareKey, decimal.NewFromInt(20), func(r decimal.Decimal) domain.CapCharge {
		seen = r
		return domain.CapCharge{Spend: decimal.NewFromInt(20), NextPeriodDelta: decimal.NewFromInt(-15)}
	})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if !remaining.Equal(decimal.NewFromInt(20)) || !seen.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected remaining 20, got %s (decide saw %s)", remaining, seen)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChargeWithoutDeductionSkipsNextPeriod(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cap_ledger").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT spent, adjustment FROM cap_ledger").
		WillReturnRows(sqlmock.NewRows([]string{"spent", "adjustment"}).AddRow("12", "0"))
	mock.ExpectExec("UPDATE cap_ledger SET spent").
		WithArgs("alice", "Software", "2026-03", decimal.NewFromInt(8), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	remaining, err := ledger.Charge(context.Background(), softwareKey, decimal.NewFromInt(20), func(r decimal.Decimal) domain.CapCharge {
		return domain.CapCharge{Spend: r}
	})
	if err != nil || !remaining.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected remaining 8, got %s %v", remaining, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChargeRollsBackAndReportsTemporaryOnSerializationFailure(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cap_ledger").WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	_, err := ledger.Charge(context.Background(), softwareKey, decimal.NewFromInt(20), func(decimal.Decimal) domain.CapCharge {
		t.Fatalf("decide must not run when the row cannot be locked")
		return domain.CapCharge{}
	})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChargeRejectsMalformedPeriod(t *testing.T) {
	ledger, _, done := newLedgerWithMock(t)
	defer done()

	key := softwareKey
	key.Period = "March"
	_, err := ledger.Charge(context.Background(), key, decimal.NewFromInt(20), func(decimal.Decimal) domain.CapCharge {
		return domain.CapCharge{}
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestClassifyPostgresError(t *testing.T) {
	if !classifyPostgresError(&pgconn.PgError{Code: "40P01"}).Retryable {
		t.Fatalf("deadlock should be retryable")
	}
	if classifyPostgresError(&pgconn.PgError{Code: "23505"}).Retryable {
		t.Fatalf("unique violation must not be retried")
	}
	if classifyPostgresError(context.Canceled).RecordFailure {
		t.Fatalf("cancellation must not count as a failure")
	}
	if classifyPostgresError(errors.New("boom")).Retryable {
		t.Fatalf("unknown errors are not retried")
	}
}
