package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/lifecycle"
	"github.com/kirillkom/xpense/internal/core/ports"
)

type ReceiptUseCase struct {
	repo     ports.ClaimRepository
	receipts ports.ReceiptStore
	events   ports.ReceiptEvents
	now      func() time.Time
}

func NewReceiptUseCase(
	repo ports.ClaimRepository,
	receipts ports.ReceiptStore,
	events ports.ReceiptEvents,
) *ReceiptUseCase {
	return &ReceiptUseCase{
		repo:     repo,
		receipts: receipts,
		events:   events,
		now:      time.Now,
	}
}

func (uc *ReceiptUseCase) RequestUploadTarget(ctx context.Context, actor domain.Actor, id, filename string) (domain.UploadTarget, error) {
	const op = "request upload target"
	if err := requireActor(op, actor); err != nil {
		return domain.UploadTarget{}, err
	}
	claim, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return domain.UploadTarget{}, err
	}
	if err := lifecycle.CanEdit(claim, actor); err != nil {
		return domain.UploadTarget{}, err
	}

	target, err := uc.receipts.UploadTarget(ctx, claim.ID, sanitizeFilename(filename))
	if err != nil {
		return domain.UploadTarget{}, fmt.Errorf("sign upload target: %w", err)
	}
	return target, nil
}

func (uc *ReceiptUseCase) StoreReceipt(ctx context.Context, path, token string, body io.Reader) error {
	if err := uc.receipts.Put(ctx, path, token, body); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	return nil
}

// AcknowledgeReceipt attaches an uploaded receipt to the draft and asks for analysis.
// A new receipt clears any earlier extraction. When publishing fails the receipt stays
// attached and acknowledging again republishes.
func (uc *ReceiptUseCase) AcknowledgeReceipt(ctx context.Context, actor domain.Actor, id, path, token string) (*domain.Claim, error) {
	const op = "acknowledge receipt"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	current, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanEdit(current, actor); err != nil {
		return nil, err
	}

	ref, err := uc.receipts.Acknowledge(ctx, current.ID, path, token)
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}

	if err := uc.repo.ReplaceReceipt(ctx, current.ID, ref, uc.now().UTC()); err != nil {
		return nil, fmt.Errorf("attach receipt: %w", err)
	}
	claim, err := uc.repo.GetByID(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	event := domain.ReceiptAcknowledged{
		ClaimID:     claim.ID,
		OwnerID:     claim.OwnerID,
		ReceiptPath: ref.Path,
		ContentType: ref.ContentType,
		OccurredAt:  claim.UpdatedAt,
	}
	if err := uc.events.PublishReceiptAcknowledged(ctx, event); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "publish receipt acknowledged", err)
	}
	return claim, nil
}

func (uc *ReceiptUseCase) OpenReceipt(ctx context.Context, actor domain.Actor, id string) (io.ReadCloser, domain.ReceiptRef, error) {
	const op = "open receipt"
	if err := requireActor(op, actor); err != nil {
		return nil, domain.ReceiptRef{}, err
	}
	claim, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, domain.ReceiptRef{}, err
	}
	if claim.OwnerID != actor.UserID && !actor.SeesAllClaims() {
		return nil, domain.ReceiptRef{}, domain.Denied(op, "claim belongs to another user")
	}
	if claim.ReceiptRef == nil {
		return nil, domain.ReceiptRef{}, domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("claim %s has no receipt", id))
	}
	body, err := uc.receipts.Open(ctx, claim.ReceiptRef.Path)
	if err != nil {
		return nil, domain.ReceiptRef{}, err
	}
	return body, *claim.ReceiptRef, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "receipt.bin"
	}
	return base
}
