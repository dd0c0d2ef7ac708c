package xpenseapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
)

// Client talks to the claims HTTP API on behalf of one user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(baseURL, token string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	executor := opts.ResilienceExecutor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), opts.Logger)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: opts.Timeout},
		executor:   executor,
	}
}

func (c *Client) CreateDraft(ctx context.Context, input domain.DraftInput) (*domain.Claim, error) {
	var claim domain.Claim
	if err := c.doJSON(ctx, http.MethodPost, "/v1/claims", input, &claim, "claim create"); err != nil {
		return nil, wrapTemporaryIfNeeded("create draft", err)
	}
	return &claim, nil
}

func (c *Client) GetClaim(ctx context.Context, id string) (*domain.Claim, error) {
	var claim domain.Claim
	if err := c.doJSON(ctx, http.MethodGet, "/v1/claims/"+url.PathEscape(id), nil, &claim, "claim get"); err != nil {
		return nil, wrapTemporaryIfNeeded("get claim", err)
	}
	return &claim, nil
}

func (c *Client) ListClaims(ctx context.Context, filter domain.ClaimFilter) (domain.ClaimPage, error) {
	q := url.Values{}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(filter.PageSize))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	path := "/v1/claims"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page domain.ClaimPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page, "claim list"); err != nil {
		return domain.ClaimPage{}, wrapTemporaryIfNeeded("list claims", err)
	}
	return page, nil
}

func (c *Client) UpdateDraft(ctx context.Context, id string, patch domain.DraftPatch) (*domain.Claim, error) {
	var claim domain.Claim
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/claims/"+url.PathEscape(id), patch, &claim, "claim update"); err != nil {
		return nil, wrapTemporaryIfNeeded("update draft", err)
	}
	return &claim, nil
}

func (c *Client) Transition(ctx context.Context, id string, to domain.ClaimStatus, reason string) (*domain.Claim, error) {
	payload := map[string]string{"status": string(to)}
	if reason != "" {
		payload["reason"] = reason
	}
	var claim domain.Claim
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/claims/"+url.PathEscape(id)+"/status", payload, &claim, "claim transition"); err != nil {
		return nil, wrapTemporaryIfNeeded("transition claim", err)
	}
	return &claim, nil
}

func (c *Client) RequestUploadTarget(ctx context.Context, id, filename string) (domain.UploadTarget, error) {
	var target domain.UploadTarget
	payload := map[string]string{"filename": filename}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/claims/"+url.PathEscape(id)+"/upload-url", payload, &target, "claim upload target"); err != nil {
		return domain.UploadTarget{}, wrapTemporaryIfNeeded("request upload target", err)
	}
	return target, nil
}

// Upload sends the receipt bytes to the signed target. The body is buffered so
// that retries can resend it.
func (c *Client) Upload(ctx context.Context, target domain.UploadTarget, body io.Reader) error {
	if strings.TrimSpace(target.URL) == "" {
		return domain.Invalid("upload receipt", "upload target has no url")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read receipt: %w", err)
	}
	method := target.Method
	if method == "" {
		method = http.MethodPut
	}

	err = c.executor.Execute(ctx, "receipt upload", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, target.URL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", http.DetectContentType(data))
		req.Header.Set("Authorization", "Bearer "+target.Token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("xpense receipt upload request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return formatHTTPError("receipt upload", resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}, classifyAPIError)
	return wrapTemporaryIfNeeded("upload receipt", err)
}

func (c *Client) AcknowledgeReceipt(ctx context.Context, id, path, token string) (*domain.Claim, error) {
	var claim domain.Claim
	payload := map[string]string{"path": path, "token": token}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/claims/"+url.PathEscape(id)+"/ack-receipt", payload, &claim, "claim ack receipt"); err != nil {
		return nil, wrapTemporaryIfNeeded("acknowledge receipt", err)
	}
	return &claim, nil
}

// DownloadReceipt fetches the receipt attached to a claim and returns its content type.
// The body is buffered so a retried request never writes partial bytes to w.
func (c *Client) DownloadReceipt(ctx context.Context, id string, w io.Writer) (string, error) {
	const operation = "claim receipt download"
	var buf bytes.Buffer
	var contentType string
	err := c.executor.Execute(ctx, operation, func(ctx context.Context) error {
		buf.Reset()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/claims/"+url.PathEscape(id)+"/receipt", nil)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("xpense %s request: %w", operation, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return formatHTTPError(operation, resp)
		}
		if _, err := io.Copy(&buf, resp.Body); err != nil {
			return fmt.Errorf("read %s response: %w", operation, err)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	}, classifyAPIError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("download receipt", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return contentType, nil
}

func (c *Client) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	var team domain.Team
	if err := c.doJSON(ctx, http.MethodGet, "/v1/teams/"+url.PathEscape(id), nil, &team, "team get"); err != nil {
		return nil, wrapTemporaryIfNeeded("get team", err)
	}
	return &team, nil
}

func (c *Client) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	var group domain.Group
	if err := c.doJSON(ctx, http.MethodGet, "/v1/groups/"+url.PathEscape(id), nil, &group, "group get"); err != nil {
		return nil, wrapTemporaryIfNeeded("get group", err)
	}
	return &group, nil
}

func (c *Client) ListTeams(ctx context.Context) ([]domain.Team, error) {
	var resp struct {
		Items []domain.Team `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/teams", nil, &resp, "team list"); err != nil {
		return nil, wrapTemporaryIfNeeded("list teams", err)
	}
	return resp.Items, nil
}

func (c *Client) CreateTeam(ctx context.Context, name string) (*domain.Team, error) {
	var team domain.Team
	if err := c.doJSON(ctx, http.MethodPost, "/v1/teams", map[string]string{"name": name}, &team, "team create"); err != nil {
		return nil, wrapTemporaryIfNeeded("create team", err)
	}
	return &team, nil
}

func (c *Client) RenameTeam(ctx context.Context, id, name string) (*domain.Team, error) {
	var team domain.Team
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/teams/"+url.PathEscape(id), map[string]string{"name": name}, &team, "team rename"); err != nil {
		return nil, wrapTemporaryIfNeeded("rename team", err)
	}
	return &team, nil
}

func (c *Client) AddTeamMember(ctx context.Context, id, userID string) (*domain.Team, error) {
	var team domain.Team
	if err := c.doJSON(ctx, http.MethodPost, "/v1/teams/"+url.PathEscape(id)+"/members", map[string]string{"userId": userID}, &team, "team member add"); err != nil {
		return nil, wrapTemporaryIfNeeded("add team member", err)
	}
	return &team, nil
}

func (c *Client) RemoveTeamMember(ctx context.Context, id, userID string) (*domain.Team, error) {
	var team domain.Team
	path := "/v1/teams/" + url.PathEscape(id) + "/members/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &team, "team member remove"); err != nil {
		return nil, wrapTemporaryIfNeeded("remove team member", err)
	}
	return &team, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]domain.Group, error) {
	var resp struct {
		Items []domain.Group `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/groups", nil, &resp, "group list"); err != nil {
		return nil, wrapTemporaryIfNeeded("list groups", err)
	}
	return resp.Items, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string) (*domain.Group, error) {
	var group domain.Group
	if err := c.doJSON(ctx, http.MethodPost, "/v1/groups", map[string]string{"name": name}, &group, "group create"); err != nil {
		return nil, wrapTemporaryIfNeeded("create group", err)
	}
	return &group, nil
}

func (c *Client) RenameGroup(ctx context.Context, id, name string) (*domain.Group, error) {
	var group domain.Group
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/groups/"+url.PathEscape(id), map[string]string{"name": name}, &group, "group rename"); err != nil {
		return nil, wrapTemporaryIfNeeded("rename group", err)
	}
	return &group, nil
}

func (c *Client) InviteGroupMember(ctx context.Context, id, userID string) (*domain.Group, error) {
	var group domain.Group
	if err := c.doJSON(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(id)+"/members", map[string]string{"userId": userID}, &group, "group invite"); err != nil {
		return nil, wrapTemporaryIfNeeded("invite group member", err)
	}
	return &group, nil
}

func (c *Client) AcceptInvite(ctx context.Context, id string) (*domain.Group, error) {
	var group domain.Group
	if err := c.doJSON(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(id)+"/members/accept", nil, &group, "group invite accept"); err != nil {
		return nil, wrapTemporaryIfNeeded("accept invite", err)
	}
	return &group, nil
}

func (c *Client) RejectInvite(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(id)+"/members/reject", nil, nil, "group invite reject"); err != nil {
		return wrapTemporaryIfNeeded("reject invite", err)
	}
	return nil
}

func (c *Client) ListInvites(ctx context.Context) ([]domain.GroupInvite, error) {
	var resp struct {
		Items []domain.GroupInvite `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/groups/invites", nil, &resp, "group invites"); err != nil {
		return nil, wrapTemporaryIfNeeded("list invites", err)
	}
	return resp.Items, nil
}

func (c *Client) Summary(ctx context.Context) (domain.ReportsSummary, error) {
	var summary domain.ReportsSummary
	if err := c.doJSON(ctx, http.MethodGet, "/v1/reports/summary", nil, &summary, "reports summary"); err != nil {
		return domain.ReportsSummary{}, wrapTemporaryIfNeeded("reports summary", err)
	}
	return summary, nil
}

// Identity returns the caller as the server resolved it, permissions included.
func (c *Client) Identity(ctx context.Context) (domain.Actor, error) {
	var resp struct {
		UserID      string   `json:"userId"`
		Permissions []string `json:"permissions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/auth/permissions", nil, &resp, "auth permissions"); err != nil {
		return domain.Actor{}, wrapTemporaryIfNeeded("identity", err)
	}
	return domain.NewActor(resp.UserID, resp.Permissions...), nil
}
