package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/xpense/internal/core/capping"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/ports"
)

type ReportUseCase struct {
	repo   ports.ClaimRepository
	writer ports.ReportWriter
	caps   *capping.Evaluator
}

func NewReportUseCase(repo ports.ClaimRepository, writer ports.ReportWriter, caps *capping.Evaluator) *ReportUseCase {
	return &ReportUseCase{repo: repo, writer: writer, caps: caps}
}

// Summary aggregates the caller's claims, or every claim for holders of the reports permission.
func (uc *ReportUseCase) Summary(ctx context.Context, actor domain.Actor) (domain.ReportsSummary, error) {
	if err := requireActor("reports summary", actor); err != nil {
		return domain.ReportsSummary{}, err
	}
	return uc.repo.Summary(ctx, reportScope(actor))
}

func (uc *ReportUseCase) ExportReport(ctx context.Context, actor domain.Actor, w io.Writer) error {
	if err := requireActor("export report", actor); err != nil {
		return err
	}
	scope := reportScope(actor)
	summary, err := uc.repo.Summary(ctx, scope)
	if err != nil {
		return err
	}
	claims, err := uc.repo.ListForReport(ctx, scope)
	if err != nil {
		return err
	}
	if err := uc.writer.WriteReport(w, summary, claims); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// PreviewCap evaluates a prospective claim for the caller without charging the ledger.
func (uc *ReportUseCase) PreviewCap(ctx context.Context, actor domain.Actor, req domain.CapRequest) (domain.CapDecision, error) {
	const op = "preview cap"
	if err := requireActor(op, actor); err != nil {
		return domain.CapDecision{}, err
	}
	category, ok := domain.ParseCategory(string(req.Category))
	if !ok {
		return domain.CapDecision{}, domain.Invalid(op, fmt.Sprintf("unknown category %q", req.Category))
	}
	req.Category = category
	req.OwnerID = actor.UserID
	return uc.caps.Preview(ctx, req)
}

func reportScope(actor domain.Actor) string {
	if actor.Has(domain.PermReportsList) {
		return ""
	}
	return actor.UserID
}
