package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

func newReceiptUseCase(repo *claimRepoFake, store *receiptStoreFake, events *receiptEventsFake) *ReceiptUseCase {
	uc := NewReceiptUseCase(repo, store, events)
	uc.now = fixedNow
	return uc
}

func TestRequestUploadTargetSanitizesFilename(t *testing.T) {
	store := &receiptStoreFake{}
	uc := newReceiptUseCase(newClaimRepoFake(readyDraft("c-1")), store, &receiptEventsFake{})

	target, err := uc.RequestUploadTarget(context.Background(), alice, "c-1", "../lunch receipt (1).pdf")
	if err != nil {
		t.Fatalf("RequestUploadTarget() error = %v", err)
	}
	if store.filename != "lunch_receipt__1_.pdf" {
		t.Fatalf("unexpected sanitized filename %q", store.filename)
	}
	if target.Token == "" || target.Method != "PUT" {
		t.Fatalf("unexpected target %+v", target)
	}
}

func TestRequestUploadTargetDeniedForOtherUser(t *testing.T) {
	uc := newReceiptUseCase(newClaimRepoFake(readyDraft("c-1")), &receiptStoreFake{}, &receiptEventsFake{})
	if _, err := uc.RequestUploadTarget(context.Background(), bob, "c-1", "r.pdf"); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestStoreReceiptRejectsBadToken(t *testing.T) {
	uc := newReceiptUseCase(newClaimRepoFake(), &receiptStoreFake{}, &receiptEventsFake{})
	err := uc.StoreReceipt(context.Background(), "c-1/r.pdf", "forged", strings.NewReader("x"))
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAcknowledgeReceiptAttachesAndPublishes(t *testing.T) {
	draft := readyDraft("c-1")
	amount := decimal.NewFromInt(1)
	draft.Extraction = &domain.Extraction{Amount: &amount}
	draft.SupervisionLevel = domain.SupervisionHigh
	repo := newClaimRepoFake(draft)
	events := &receiptEventsFake{}
	store := &receiptStoreFake{ref: domain.ReceiptRef{ContentType: "application/pdf", SizeBytes: 1024, Pages: 1}}
	uc := newReceiptUseCase(repo, store, events)

	claim, err := uc.AcknowledgeReceipt(context.Background(), alice, "c-1", "c-1/r.pdf", "tok")
	if err != nil {
		t.Fatalf("AcknowledgeReceipt() error = %v", err)
	}
	if claim.ReceiptRef == nil || claim.ReceiptRef.Path != "c-1/r.pdf" {
		t.Fatalf("expected receipt ref, got %+v", claim.ReceiptRef)
	}
	if claim.Extraction != nil || claim.SupervisionLevel != domain.SupervisionNone {
		t.Fatalf("new receipt must clear the previous extraction, got %+v", claim)
	}
	if len(events.events) != 1 || events.events[0].ClaimID != "c-1" || events.events[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected published events %+v", events.events)
	}
}

func TestAcknowledgeReceiptPublishFailureKeepsValidDraft(t *testing.T) {
	repo := newClaimRepoFake(readyDraft("c-1"))
	events := &receiptEventsFake{err: errors.New("nats: no responders")}
	uc := newReceiptUseCase(repo, &receiptStoreFake{}, events)

	_, err := uc.AcknowledgeReceipt(context.Background(), alice, "c-1", "c-1/r.pdf", "tok")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	stored := repo.stored("c-1")
	if stored.Status != domain.StatusDraft {
		t.Fatalf("claim must stay draft, got %s", stored.Status)
	}
}

func TestAcknowledgeReceiptVerificationFailureLeavesClaimUntouched(t *testing.T) {
	repo := newClaimRepoFake(readyDraft("c-1"))
	store := &receiptStoreFake{ackErr: domain.WrapError(domain.ErrUnauthorized, "verify", errors.New("expired"))}
	uc := newReceiptUseCase(repo, store, &receiptEventsFake{})

	if _, err := uc.AcknowledgeReceipt(context.Background(), alice, "c-1", "c-1/r.pdf", "old"); !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if repo.stored("c-1").ReceiptRef != nil || repo.saves != 0 {
		t.Fatalf("claim must remain receipt-less")
	}
}

func TestOpenReceiptStreamsAttachedReceipt(t *testing.T) {
	repo := newClaimRepoFake(receiptDraft("c-1"))
	store := &receiptStoreFake{putBody: "%PDF-1.4"}
	uc := newReceiptUseCase(repo, store, &receiptEventsFake{})

	body, ref, err := uc.OpenReceipt(context.Background(), alice, "c-1")
	if err != nil {
		t.Fatalf("OpenReceipt() error = %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if string(raw) != "%PDF-1.4" || ref.ContentType != "application/pdf" || store.opened != "c-1/r.pdf" {
		t.Fatalf("unexpected receipt %q %+v opened %q", raw, ref, store.opened)
	}
}

func TestOpenReceiptAccessRules(t *testing.T) {
	repo := newClaimRepoFake(receiptDraft("c-1"), readyDraft("c-2"))
	store := &receiptStoreFake{putBody: "%PDF-1.4"}
	uc := newReceiptUseCase(repo, store, &receiptEventsFake{})

	if _, _, err := uc.OpenReceipt(context.Background(), bob, "c-1"); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for another user, got %v", err)
	}
	auditor := domain.NewActor("erin", domain.PermClaimsList)
	body, _, err := uc.OpenReceipt(context.Background(), auditor, "c-1")
	if err != nil {
		t.Fatalf("list permission must read any receipt, got %v", err)
	}
	_ = body.Close()
	if _, _, err := uc.OpenReceipt(context.Background(), alice, "c-2"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a claim without receipt, got %v", err)
	}
}
