// Package xlsx renders claim reports as Excel workbooks.
package xlsx

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/xpense/internal/core/allocation"
	"github.com/kirillkom/xpense/internal/core/domain"
)

const (
	sheetClaims  = "Claims"
	sheetPayouts = "Payouts"
	sheetSummary = "Summary"
)

var claimHeaders = []string{
	"Claim ID", "Owner", "Status", "Category", "Expense Date", "Merchant", "Amount",
	"Reimbursable", "Allocation", "Supervision", "Legal Review", "Policy Flags", "Receipt",
}

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteReport(out io.Writer, summary domain.ReportsSummary, claims []domain.Claim) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetClaims); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetPayouts, sheetSummary} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := writeClaims(f, claims); err != nil {
		return err
	}
	if err := writePayouts(f, claims); err != nil {
		return err
	}
	if err := writeSummary(f, summary); err != nil {
		return err
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeClaims(f *excelize.File, claims []domain.Claim) error {
	rows := make([][]any, 0, len(claims)+1)
	rows = append(rows, toAny(claimHeaders))
	for _, c := range claims {
		reimbursable := ""
		if c.ReimbursableAmount != nil {
			reimbursable = c.ReimbursableAmount.StringFixed(2)
		}
		receipt := ""
		if c.ReceiptRef != nil {
			receipt = c.ReceiptRef.Path
		}
		codes := make([]string, 0, len(c.PolicyFlags))
		for _, flag := range c.PolicyFlags {
			codes = append(codes, flag.Code)
		}
		kind := domain.AllocationPersonal
		if c.Allocation != nil {
			kind = c.Allocation.Kind()
		}
		rows = append(rows, []any{
			c.ID, c.OwnerID, string(c.Status), string(c.Category), c.ExpenseDate, c.Merchant,
			c.Amount.StringFixed(2), reimbursable, string(kind), string(c.SupervisionLevel),
			yesNo(c.LegalReviewRequired), strings.Join(codes, ", "), receipt,
		})
	}
	if err := setRows(f, sheetClaims, rows); err != nil {
		return err
	}
	_ = f.SetColWidth(sheetClaims, "A", "B", 38)
	_ = f.SetColWidth(sheetClaims, "F", "F", 28)
	_ = f.SetColWidth(sheetClaims, "L", "M", 40)
	return nil
}

func writePayouts(f *excelize.File, claims []domain.Claim) error {
	rows := [][]any{{"Claim ID", "Status", "Recipient", "Amount"}}
	for _, c := range claims {
		lines, err := allocation.Payouts(c.Allocation, c.OwnerID, c.Amount)
		if err != nil {
			return fmt.Errorf("payouts for claim %s: %w", c.ID, err)
		}
		for _, line := range lines {
			rows = append(rows, []any{c.ID, string(c.Status), line.UserID, line.Amount.StringFixed(2)})
		}
	}
	return setRows(f, sheetPayouts, rows)
}

func writeSummary(f *excelize.File, s domain.ReportsSummary) error {
	rows := [][]any{
		{"Total claims", s.TotalClaims},
		{"Total amount", s.TotalAmount.StringFixed(2)},
		{"Total reimbursed", s.TotalReimbursedAmount.StringFixed(2)},
		{},
		{"Status", "Claims"},
	}
	rows = append(rows, sortedCounts(s.StatusCounts)...)
	rows = append(rows, []any{}, []any{"Category", "Claims"})
	rows = append(rows, sortedCounts(s.CategoryCounts)...)
	return setRows(f, sheetSummary, rows)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func sortedCounts(counts map[string]int) [][]any {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, []any{k, counts[k]})
	}
	return out
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
