// Package mcp exposes read-only claim tools to an assistant over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/lifecycle"
)

// ClaimsReader is the read side of the claims API, bound to one user.
type ClaimsReader interface {
	GetClaim(ctx context.Context, id string) (*domain.Claim, error)
	ListClaims(ctx context.Context, filter domain.ClaimFilter) (domain.ClaimPage, error)
	Summary(ctx context.Context) (domain.ReportsSummary, error)
	Identity(ctx context.Context) (domain.Actor, error)
}

type tools struct {
	reader ClaimsReader
}

func NewServer(reader ClaimsReader, version string) *server.MCPServer {
	s := server.NewMCPServer("xpense", version, server.WithToolCapabilities(false))
	t := &tools{reader: reader}

	s.AddTool(mcp.NewTool("get_claim",
		mcp.WithDescription("Fetch one expense claim with the status changes the current user may make."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Claim id")),
	), t.getClaim)

	s.AddTool(mcp.NewTool("list_claims",
		mcp.WithDescription("List expense claims visible to the current user, newest first."),
		mcp.WithString("status", mcp.Description("Only claims in this status"),
			mcp.Enum("draft", "pending", "approved", "rejected", "disbursed")),
		mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
		mcp.WithNumber("pageSize", mcp.Description("Claims per page, at most 100")),
	), t.listClaims)

	s.AddTool(mcp.NewTool("claims_summary",
		mcp.WithDescription("Counts and totals of the claims visible to the current user."),
	), t.claimsSummary)

	return s
}

type claimView struct {
	Claim                *domain.Claim        `json:"claim"`
	AvailableTransitions []domain.ClaimStatus `json:"availableTransitions"`
}

func (t *tools) getClaim(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	claim, err := t.reader.GetClaim(ctx, id)
	if err != nil {
		return toolError(err)
	}
	actor, err := t.reader.Identity(ctx)
	if err != nil {
		return toolError(err)
	}
	transitions := lifecycle.Available(claim, actor)
	if transitions == nil {
		transitions = []domain.ClaimStatus{}
	}
	return jsonResult(claimView{Claim: claim, AvailableTransitions: transitions})
}

func (t *tools) listClaims(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := domain.ClaimFilter{
		Page:     req.GetInt("page", 1),
		PageSize: req.GetInt("pageSize", 20),
	}
	if raw := req.GetString("status", ""); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", raw)), nil
		}
		filter.Status = status
	}
	page, err := t.reader.ListClaims(ctx, filter)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(page)
}

func (t *tools) claimsSummary(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := t.reader.Summary(ctx)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(summary)
}

// toolError reports caller-facing failures as tool results and keeps transport
// failures as protocol errors.
func toolError(err error) (*mcp.CallToolResult, error) {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrForbidden),
		domain.IsKind(err, domain.ErrUnauthorized),
		domain.IsKind(err, domain.ErrNotFound):
		return mcp.NewToolResultError(err.Error()), nil
	default:
		return nil, err
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
