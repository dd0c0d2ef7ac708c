package httpadapter

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (rt *Router) reportsSummary(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	summary, err := rt.reports.Summary(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// exportReport renders into memory first so a failure still yields a JSON error.
func (rt *Router) exportReport(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var buf bytes.Buffer
	if err := rt.reports.ExportReport(r.Context(), actor, &buf); err != nil {
		writeDomainError(w, err)
		return
	}
	filename := "claims-" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) previewCap(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req struct {
		Category    string          `json:"category"`
		Amount      decimal.Decimal `json:"amount"`
		CapMode     string          `json:"capMode"`
		ExpenseDate string          `json:"expenseDate"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := domain.ParseDate(req.ExpenseDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	capReq := domain.CapRequest{
		Category: domain.Category(req.Category),
		Amount:   req.Amount,
		Mode:     domain.CapMode(req.CapMode),
	}
	if date != "" {
		capReq.Period = date[:len(domain.PeriodLayout)]
	}

	decision, err := rt.reports.PreviewCap(r.Context(), actor, capReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (rt *Router) permissions(w http.ResponseWriter, _ *http.Request, actor domain.Actor) {
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      actor.UserID,
		"permissions": actor.PermissionList(),
	})
}
