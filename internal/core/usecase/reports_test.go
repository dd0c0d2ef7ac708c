package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/capping"
	"github.com/kirillkom/xpense/internal/core/domain"
)

func disbursed(id, owner, amount, reimbursed string) *domain.Claim {
	c := readyDraft(id)
	c.OwnerID = owner
	c.Status = domain.StatusDisbursed
	c.Amount = decimal.RequireFromString(amount)
	r := decimal.RequireFromString(reimbursed)
	c.ReimbursableAmount = &r
	return c
}

func TestSummaryScopesByReportsPermission(t *testing.T) {
	repo := newClaimRepoFake(
		disbursed("c-1", "alice", "35", "20"),
		disbursed("c-2", "bob", "10", "10"),
		readyDraft("c-3"),
	)
	uc := NewReportUseCase(repo, &reportWriterFake{}, capping.NewEvaluator(capping.DefaultPolicy(), newLedgerFake()))

	own, err := uc.Summary(context.Background(), alice)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if own.TotalClaims != 2 || !own.TotalReimbursedAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected own summary %+v", own)
	}

	all, _ := uc.Summary(context.Background(), domain.NewActor("eve", domain.PermReportsList))
	if all.TotalClaims != 3 || !all.TotalReimbursedAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected org summary %+v", all)
	}
}

func TestExportReportWritesClaims(t *testing.T) {
	writer := &reportWriterFake{}
	uc := NewReportUseCase(newClaimRepoFake(readyDraft("c-1")), writer, capping.NewEvaluator(capping.DefaultPolicy(), newLedgerFake()))

	var buf bytes.Buffer
	if err := uc.ExportReport(context.Background(), alice, &buf); err != nil {
		t.Fatalf("ExportReport() error = %v", err)
	}
	if buf.String() != "report" || len(writer.claims) != 1 || writer.summary.TotalClaims != 1 {
		t.Fatalf("unexpected export result %q %+v", buf.String(), writer)
	}
}

func TestPreviewCapUsesCallerAndDoesNotCharge(t *testing.T) {
	ledger := newLedgerFake()
	uc := NewReportUseCase(newClaimRepoFake(), &reportWriterFake{}, capping.NewEvaluator(capping.DefaultPolicy(), ledger))

	d, err := uc.PreviewCap(context.Background(), alice, domain.CapRequest{
		OwnerID: "mallory", Category: "software", Amount: decimal.NewFromInt(35), Mode: domain.CapModeFullDeductNextMonth,
	})
	if err != nil {
		t.Fatalf("PreviewCap() error = %v", err)
	}
	if !d.ReimbursableAmount.Equal(decimal.NewFromInt(35)) || !d.NextPeriodDeduction.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected decision %+v", d)
	}
	if ledger.charges != 0 {
		t.Fatalf("preview must not charge the ledger")
	}
}

func TestResolveActorLoadsPermissions(t *testing.T) {
	uc := NewActorUseCase(&permissionStoreFake{perms: map[string][]string{"carol": {domain.PermClaimsApprove}}})
	actor, err := uc.ResolveActor(context.Background(), "carol")
	if err != nil {
		t.Fatalf("ResolveActor() error = %v", err)
	}
	if !actor.Has(domain.PermClaimsApprove) || actor.Has(domain.PermClaimsDisburse) {
		t.Fatalf("unexpected permissions %v", actor.PermissionList())
	}

	failing := NewActorUseCase(&permissionStoreFake{err: domain.WrapError(domain.ErrTemporary, "permissions", errors.New("db down"))})
	if _, err := failing.ResolveActor(context.Background(), "carol"); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
