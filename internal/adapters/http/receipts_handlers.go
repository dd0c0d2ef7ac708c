package httpadapter

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/kirillkom/xpense/internal/core/domain"
)

func (rt *Router) requestUploadTarget(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req struct {
		Filename string `json:"filename"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := rt.receipts.RequestUploadTarget(r.Context(), actor, r.PathValue("id"), req.Filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// uploadReceipt is authorised by the upload token alone; the token binds the path.
func (rt *Router) uploadReceipt(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "upload token is required")
		return
	}
	if err := rt.receipts.StoreReceipt(r.Context(), r.PathValue("path"), token, r.Body); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) acknowledgeReceipt(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req struct {
		Path  string `json:"path"`
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	claim, err := rt.receipts.AcknowledgeReceipt(r.Context(), actor, r.PathValue("id"), req.Path, req.Token)
	if rt.metrics != nil {
		rt.metrics.RecordReceiptAck(serviceName, err)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (rt *Router) downloadReceipt(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	body, ref, err := rt.receipts.OpenReceipt(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(ref.Path)+`"`)
	if ref.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(ref.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.WarnContext(r.Context(), "receipt_download_interrupted", "claim_id", r.PathValue("id"), "error", err)
	}
}
