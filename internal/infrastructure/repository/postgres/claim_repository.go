package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
)

const claimColumns = `id, owner_id, amount, category, expense_date, merchant, description, status, status_reason,
	receipt_ref, extraction, allocation, cap_mode, supervision_level, legal_review_required,
	reimbursable_amount, policy_flags, created_at, updated_at`

type ClaimRepository struct {
	db *sql.DB
}

func NewClaimRepository(db *sql.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) Create(ctx context.Context, claim *domain.Claim) error {
	row, err := encodeClaim(claim)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO claims (`+claimColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`,
		claim.ID, claim.OwnerID, claim.Amount, string(claim.Category), claim.ExpenseDate, claim.Merchant,
		claim.Description, string(claim.Status), claim.StatusReason, row.receipt, row.extraction, row.allocation,
		string(claim.CapMode), string(claim.SupervisionLevel), claim.LegalReviewRequired, row.reimbursable,
		row.flags, claim.CreatedAt, claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrClaimNotFound, "get claim", fmt.Errorf("id=%s", id))
		}
		return nil, resilience.WrapTemporary("get claim", fmt.Errorf("scan claim: %w", err), classifyPostgresError)
	}
	return claim, nil
}

func (r *ClaimRepository) List(ctx context.Context, filter domain.ClaimFilter) (domain.ClaimPage, error) {
	page := domain.ClaimPage{Items: []domain.Claim{}, Page: filter.Page, PageSize: filter.PageSize}

	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM claims
WHERE ($1 = '' OR owner_id = $1) AND ($2 = '' OR status = $2)
`, filter.OwnerID, string(filter.Status)).Scan(&page.Total)
	if err != nil {
		return page, fmt.Errorf("count claims: %w", err)
	}

	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * filter.PageSize
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+claimColumns+` FROM claims
WHERE ($1 = '' OR owner_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4
`, filter.OwnerID, string(filter.Status), filter.PageSize, offset)
	if err != nil {
		return page, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return page, fmt.Errorf("scan claim: %w", err)
		}
		page.Items = append(page.Items, *claim)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate claims: %w", err)
	}
	return page, nil
}

// Save never writes the extraction column. The derived supervision fields are written
// only while the stored extraction still equals the one the claim was read with, so an
// analysis result recorded in between is never overwritten with stale values.
func (r *ClaimRepository) Save(ctx context.Context, claim *domain.Claim, expected domain.ClaimStatus) error {
	row, err := encodeClaim(claim)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE claims
SET amount = $3, category = $4, expense_date = $5, merchant = $6, description = $7, status = $8,
	status_reason = $9, receipt_ref = $10, allocation = $11, cap_mode = $12,
	supervision_level = $13, legal_review_required = $14, reimbursable_amount = $15, policy_flags = $16,
	updated_at = $17
WHERE id = $1 AND status = $2 AND extraction IS NOT DISTINCT FROM $18::jsonb
`,
		claim.ID, string(expected), claim.Amount, string(claim.Category), claim.ExpenseDate, claim.Merchant,
		claim.Description, string(claim.Status), claim.StatusReason, row.receipt, row.allocation,
		string(claim.CapMode), string(claim.SupervisionLevel), claim.LegalReviewRequired, row.reimbursable,
		row.flags, claim.UpdatedAt, row.extraction,
	)
	if err != nil {
		return resilience.WrapTemporary("save claim", fmt.Errorf("update claim: %w", err), classifyPostgresError)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update claim rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, "save claim", claim.ID, expected)
	}
	return nil
}

// ReplaceReceipt attaches ref to a draft. When the path differs from the stored one the
// extraction and its derived fields are cleared in the same statement.
func (r *ClaimRepository) ReplaceReceipt(ctx context.Context, id string, ref domain.ReceiptRef, updatedAt time.Time) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal receipt ref: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE claims
SET extraction = CASE WHEN receipt_ref->>'path' IS DISTINCT FROM $3 THEN NULL ELSE extraction END,
	supervision_level = CASE WHEN receipt_ref->>'path' IS DISTINCT FROM $3 THEN 'none' ELSE supervision_level END,
	legal_review_required = CASE WHEN receipt_ref->>'path' IS DISTINCT FROM $3 THEN FALSE ELSE legal_review_required END,
	receipt_ref = $2, updated_at = $4
WHERE id = $1 AND status = $5
`, id, raw, ref.Path, updatedAt, string(domain.StatusDraft))
	if err != nil {
		return resilience.WrapTemporary("replace receipt", fmt.Errorf("update receipt: %w", err), classifyPostgresError)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update receipt rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, "replace receipt", id, domain.StatusDraft)
	}
	return nil
}

// SaveExtraction writes only while no successful extraction is stored and the claim still
// carries the receipt the extraction was made from.
func (r *ClaimRepository) SaveExtraction(ctx context.Context, claim *domain.Claim) (bool, error) {
	extraction, err := marshalNullable(claim.Extraction)
	if err != nil {
		return false, err
	}
	path := ""
	if claim.ReceiptRef != nil {
		path = claim.ReceiptRef.Path
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE claims
SET extraction = $2, supervision_level = $3, legal_review_required = $4, updated_at = $5
WHERE id = $1 AND (extraction IS NULL OR extraction->'error' IS NOT NULL) AND receipt_ref->>'path' = $6
`, claim.ID, extraction, string(claim.SupervisionLevel), claim.LegalReviewRequired, claim.UpdatedAt, path)
	if err != nil {
		return false, resilience.WrapTemporary("save extraction", fmt.Errorf("update extraction: %w", err), classifyPostgresError)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save extraction rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := r.currentStatus(ctx, claim.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *ClaimRepository) DeleteDraft(ctx context.Context, id, ownerID string) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM claims WHERE id = $1 AND owner_id = $2 AND status = $3
`, id, ownerID, string(domain.StatusDraft))
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete draft rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, "delete draft", id, domain.StatusDraft)
	}
	return nil
}

func (r *ClaimRepository) Summary(ctx context.Context, ownerID string) (domain.ReportsSummary, error) {
	summary := domain.ReportsSummary{StatusCounts: map[string]int{}, CategoryCounts: map[string]int{}}

	rows, err := r.db.QueryContext(ctx, `
SELECT status, category, COUNT(*), COALESCE(SUM(amount), 0),
	COALESCE(SUM(reimbursable_amount) FILTER (WHERE status = 'disbursed'), 0)
FROM claims
WHERE ($1 = '' OR owner_id = $1)
GROUP BY status, category
`, ownerID)
	if err != nil {
		return summary, fmt.Errorf("summarize claims: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, category string
		var count int
		var total, reimbursed decimal.Decimal
		if err := rows.Scan(&status, &category, &count, &total, &reimbursed); err != nil {
			return summary, fmt.Errorf("scan summary row: %w", err)
		}
		summary.StatusCounts[status] += count
		summary.CategoryCounts[category] += count
		summary.TotalClaims += count
		summary.TotalAmount = summary.TotalAmount.Add(total)
		summary.TotalReimbursedAmount = summary.TotalReimbursedAmount.Add(reimbursed)
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("iterate summary rows: %w", err)
	}
	return summary, nil
}

func (r *ClaimRepository) ListForReport(ctx context.Context, ownerID string) ([]domain.Claim, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+claimColumns+` FROM claims
WHERE ($1 = '' OR owner_id = $1)
ORDER BY created_at, id
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list claims for report: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Claim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, *claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return out, nil
}

func (r *ClaimRepository) currentStatus(ctx context.Context, id string) (domain.ClaimStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM claims WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrClaimNotFound, "get claim", fmt.Errorf("id=%s", id))
		}
		return "", fmt.Errorf("read claim status: %w", err)
	}
	return domain.ClaimStatus(status), nil
}

func (r *ClaimRepository) missOrConflict(ctx context.Context, op, id string, expected domain.ClaimStatus) error {
	status, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == expected {
		return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("claim %s extraction changed concurrently", id))
	}
	return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("claim %s is %s, expected %s", id, status, expected))
}

type encodedClaim struct {
	receipt      []byte
	extraction   []byte
	allocation   []byte
	flags        []byte
	reimbursable decimal.NullDecimal
}

func encodeClaim(claim *domain.Claim) (encodedClaim, error) {
	var out encodedClaim
	var err error
	if out.receipt, err = marshalNullable(claim.ReceiptRef); err != nil {
		return out, err
	}
	if out.extraction, err = marshalNullable(claim.Extraction); err != nil {
		return out, err
	}
	if out.allocation, err = domain.MarshalAllocation(claim.Allocation); err != nil {
		return out, fmt.Errorf("marshal allocation: %w", err)
	}
	flags := claim.PolicyFlags
	if flags == nil {
		flags = []domain.PolicyFlag{}
	}
	if out.flags, err = json.Marshal(flags); err != nil {
		return out, fmt.Errorf("marshal policy flags: %w", err)
	}
	if claim.ReimbursableAmount != nil {
		out.reimbursable = decimal.NullDecimal{Decimal: *claim.ReimbursableAmount, Valid: true}
	}
	return out, nil
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return raw, nil
}

func scanClaim(row rowScanner) (*domain.Claim, error) {
	var c domain.Claim
	var category, status, capMode, supervision string
	var receiptRaw, extractionRaw, allocationRaw, flagsRaw []byte
	var reimbursable decimal.NullDecimal

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Amount, &category, &c.ExpenseDate, &c.Merchant, &c.Description, &status,
		&c.StatusReason, &receiptRaw, &extractionRaw, &allocationRaw, &capMode, &supervision,
		&c.LegalReviewRequired, &reimbursable, &flagsRaw, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Category = domain.Category(category)
	c.Status = domain.ClaimStatus(status)
	c.CapMode = domain.CapMode(capMode)
	c.SupervisionLevel = domain.SupervisionLevel(supervision)
	if reimbursable.Valid {
		v := reimbursable.Decimal
		c.ReimbursableAmount = &v
	}
	if len(receiptRaw) > 0 {
		c.ReceiptRef = &domain.ReceiptRef{}
		if err := json.Unmarshal(receiptRaw, c.ReceiptRef); err != nil {
			return nil, fmt.Errorf("unmarshal receipt ref: %w", err)
		}
	}
	if len(extractionRaw) > 0 {
		c.Extraction = &domain.Extraction{}
		if err := json.Unmarshal(extractionRaw, c.Extraction); err != nil {
			return nil, fmt.Errorf("unmarshal extraction: %w", err)
		}
	}
	if c.Allocation, err = domain.UnmarshalAllocation(allocationRaw); err != nil {
		return nil, err
	}
	if len(flagsRaw) > 0 {
		if err := json.Unmarshal(flagsRaw, &c.PolicyFlags); err != nil {
			return nil, fmt.Errorf("unmarshal policy flags: %w", err)
		}
	}
	return &c, nil
}
