package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/xpense/internal/core/domain"
)

func (rt *Router) createClaim(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var input domain.DraftInput
	if !decodeJSON(w, r, &input) {
		return
	}
	claim, err := rt.claims.CreateDraft(r.Context(), actor, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

func (rt *Router) listClaims(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	filter := domain.ClaimFilter{Page: 1, PageSize: 20}
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &filter.Page); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "pageSize", query, &filter.PageSize); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status string
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status != "" {
		parsed, ok := domain.ParseStatus(status)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+status)
			return
		}
		filter.Status = parsed
	}

	page, err := rt.claims.ListClaims(r.Context(), actor, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) getClaim(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	claim, err := rt.claims.GetClaim(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (rt *Router) updateDraft(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var patch domain.DraftPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	claim, err := rt.claims.UpdateDraft(r.Context(), actor, r.PathValue("id"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (rt *Router) deleteDraft(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if err := rt.claims.DeleteDraft(r.Context(), actor, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) updateStatus(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	to, ok := domain.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	id := r.PathValue("id")
	claim, err := rt.claims.Transition(r.Context(), actor, id, to, req.Reason)
	if rt.metrics != nil {
		rt.metrics.RecordTransition(serviceName, string(to), err)
	}
	if err != nil {
		slog.Warn("claim_transition", "claim_id", id, "actor", actor.UserID, "to", to, "error", err)
		writeDomainError(w, err)
		return
	}
	slog.Info("claim_transition", "claim_id", id, "actor", actor.UserID, "to", to)
	if to == domain.StatusPending && rt.metrics != nil {
		codes := make([]string, 0, len(claim.PolicyFlags))
		for _, f := range claim.PolicyFlags {
			codes = append(codes, f.Code)
		}
		rt.metrics.RecordSubmission(serviceName, string(claim.SupervisionLevel), claim.LegalReviewRequired, codes)
	}
	writeJSON(w, http.StatusOK, claim)
}
