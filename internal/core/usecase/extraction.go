package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/ports"
	"github.com/kirillkom/xpense/internal/core/reconcile"
)

type ExtractionUseCase struct {
	repo      ports.ClaimRepository
	reconcile reconcile.Options
	now       func() time.Time
}

func NewExtractionUseCase(repo ports.ClaimRepository, reconcileOpts reconcile.Options) *ExtractionUseCase {
	return &ExtractionUseCase{
		repo:      repo,
		reconcile: reconcileOpts,
		now:       time.Now,
	}
}

// RecordExtraction stores an analysis result and refreshes the derived supervision fields.
// Once a successful extraction is stored, later events for the claim are ignored. So are
// events for a receipt the claim no longer carries.
func (uc *ExtractionUseCase) RecordExtraction(ctx context.Context, event domain.ExtractionEvent) (*domain.Claim, error) {
	const op = "record extraction"
	if strings.TrimSpace(event.ClaimID) == "" {
		return nil, domain.Invalid(op, "claim id is required")
	}
	if strings.TrimSpace(event.ReceiptPath) == "" {
		return nil, domain.Invalid(op, "receipt path is required")
	}

	current, err := uc.repo.GetByID(ctx, event.ClaimID)
	if err != nil {
		return nil, err
	}
	if current.Extraction.Succeeded() {
		return nil, nil
	}
	if current.ReceiptRef == nil || current.ReceiptRef.Path != event.ReceiptPath {
		return nil, nil
	}

	ext := event.Extraction.Clone()
	if ext.ReceivedAt.IsZero() {
		ext.ReceivedAt = uc.now().UTC()
	}
	if ext.Error == nil && strings.TrimSpace(ext.Category) != "" {
		if category, ok := domain.CanonicalCategory(ext.Category); ok {
			ext.Category = string(category)
		}
	}
	if ext.Amount != nil {
		if ext.Amount.IsNegative() {
			return nil, domain.Invalid(op, "extracted amount must not be negative")
		}
		rounded := ext.Amount.Round(2)
		ext.Amount = &rounded
	}

	claim := current.Clone()
	claim.Extraction = ext
	reconcile.Apply(claim, reconcile.Reconcile(uc.reconcile, claim))
	claim.UpdatedAt = ext.ReceivedAt

	recorded, err := uc.repo.SaveExtraction(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("save extraction: %w", err)
	}
	if !recorded {
		return nil, nil
	}
	return claim, nil
}
