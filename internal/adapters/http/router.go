package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/ports"
	"github.com/kirillkom/xpense/internal/observability/metrics"
)

const (
	serviceName  = "api"
	maxJSONBytes = 1 << 20
)

type Router struct {
	cfg config.Config

	claims    ports.ClaimService
	receipts  ports.ReceiptUploads
	reports   ports.ReportService
	actors    ports.ActorResolver
	directory ports.DirectoryService

	identity  IdentityVerifier
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
}

type Option func(*Router)

func WithIdentityVerifier(v IdentityVerifier) Option {
	return func(rt *Router) { rt.identity = v }
}

func WithMetrics(m *metrics.HTTPServerMetrics) Option {
	return func(rt *Router) { rt.metrics = m }
}

func NewRouter(
	cfg config.Config,
	claims ports.ClaimService,
	receipts ports.ReceiptUploads,
	reports ports.ReportService,
	actors ports.ActorResolver,
	directory ports.DirectoryService,
	opts ...Option,
) *Router {
	rt := &Router{
		cfg:       cfg,
		claims:    claims,
		receipts:  receipts,
		reports:   reports,
		actors:    actors,
		directory: directory,
	}
	for _, opt := range opts {
		opt(rt)
	}
	validator, err := newRequestValidator()
	if err != nil {
		// The contract is embedded at build time; a broken one is a programming error.
		panic(fmt.Sprintf("httpadapter: %v", err))
	}
	rt.validator = validator
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/claims", rt.withActor(rt.createClaim))
	mux.HandleFunc("GET /v1/claims", rt.withActor(rt.listClaims))
	mux.HandleFunc("GET /v1/claims/{id}", rt.withActor(rt.getClaim))
	mux.HandleFunc("PATCH /v1/claims/{id}", rt.withActor(rt.updateDraft))
	mux.HandleFunc("DELETE /v1/claims/{id}", rt.withActor(rt.deleteDraft))
	mux.HandleFunc("PATCH /v1/claims/{id}/status", rt.withActor(rt.updateStatus))
	mux.HandleFunc("POST /v1/claims/{id}/upload-url", rt.withActor(rt.requestUploadTarget))
	mux.HandleFunc("POST /v1/claims/{id}/ack-receipt", rt.withActor(rt.acknowledgeReceipt))
	mux.HandleFunc("GET /v1/claims/{id}/receipt", rt.withActor(rt.downloadReceipt))
	mux.HandleFunc("PUT /v1/uploads/{path...}", rt.uploadReceipt)

	mux.HandleFunc("POST /v1/policy/preview", rt.withActor(rt.previewCap))
	mux.HandleFunc("GET /v1/reports/summary", rt.withActor(rt.reportsSummary))
	mux.HandleFunc("GET /v1/reports/export.xlsx", rt.withActor(rt.exportReport))
	mux.HandleFunc("GET /v1/auth/permissions", rt.withActor(rt.permissions))

	mux.HandleFunc("GET /v1/teams", rt.withActor(rt.listTeams))
	mux.HandleFunc("POST /v1/teams", rt.withActor(rt.createTeam))
	mux.HandleFunc("GET /v1/teams/{id}", rt.withActor(rt.getTeam))
	mux.HandleFunc("PATCH /v1/teams/{id}", rt.withActor(rt.renameTeam))
	mux.HandleFunc("POST /v1/teams/{id}/members", rt.withActor(rt.addTeamMember))
	mux.HandleFunc("DELETE /v1/teams/{id}/members/{userId}", rt.withActor(rt.removeTeamMember))
	mux.HandleFunc("GET /v1/groups", rt.withActor(rt.listGroups))
	mux.HandleFunc("POST /v1/groups", rt.withActor(rt.createGroup))
	mux.HandleFunc("GET /v1/groups/invites", rt.withActor(rt.listInvites))
	mux.HandleFunc("GET /v1/groups/{id}", rt.withActor(rt.getGroup))
	mux.HandleFunc("PATCH /v1/groups/{id}", rt.withActor(rt.renameGroup))
	mux.HandleFunc("POST /v1/groups/{id}/members", rt.withActor(rt.inviteGroupMember))
	mux.HandleFunc("POST /v1/groups/{id}/members/accept", rt.withActor(rt.acceptInvite))
	mux.HandleFunc("POST /v1/groups/{id}/members/reject", rt.withActor(rt.rejectInvite))

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.shed("backpressure"))
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.shed("rate_limit"))
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) shed(reason string) func() {
	return func() {
		if rt.metrics != nil {
			rt.metrics.RecordShed(serviceName, reason)
		}
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}
