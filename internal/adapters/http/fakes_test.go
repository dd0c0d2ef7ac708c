package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/domain"
)

type claimServiceFake struct {
	err        error
	created    domain.DraftInput
	patched    domain.DraftPatch
	filter     domain.ClaimFilter
	transition domain.ClaimStatus
	reason     string
	calls      int
}

func (f *claimServiceFake) claim(id string, actor domain.Actor) *domain.Claim {
	return &domain.Claim{ID: id, OwnerID: actor.UserID, Status: domain.StatusDraft, Allocation: domain.PersonalAllocation{}}
}

func (f *claimServiceFake) CreateDraft(_ context.Context, actor domain.Actor, input domain.DraftInput) (*domain.Claim, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.created = input
	c := f.claim("c-1", actor)
	c.Allocation = input.Allocation
	return c, nil
}

func (f *claimServiceFake) GetClaim(_ context.Context, actor domain.Actor, id string) (*domain.Claim, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.claim(id, actor), nil
}

func (f *claimServiceFake) ListClaims(_ context.Context, _ domain.Actor, filter domain.ClaimFilter) (domain.ClaimPage, error) {
	f.calls++
	f.filter = filter
	if f.err != nil {
		return domain.ClaimPage{}, f.err
	}
	return domain.ClaimPage{Items: []domain.Claim{}, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (f *claimServiceFake) UpdateDraft(_ context.Context, actor domain.Actor, id string, patch domain.DraftPatch) (*domain.Claim, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.patched = patch
	return f.claim(id, actor), nil
}

func (f *claimServiceFake) DeleteDraft(context.Context, domain.Actor, string) error {
	f.calls++
	return f.err
}

func (f *claimServiceFake) Transition(_ context.Context, actor domain.Actor, id string, to domain.ClaimStatus, reason string) (*domain.Claim, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.transition, f.reason = to, reason
	c := f.claim(id, actor)
	c.Status = to
	c.SupervisionLevel = domain.SupervisionLow
	return c, nil
}

type receiptsFake struct {
	err    error
	path   string
	token  string
	stored string
}

func (f *receiptsFake) RequestUploadTarget(_ context.Context, _ domain.Actor, id, filename string) (domain.UploadTarget, error) {
	if f.err != nil {
		return domain.UploadTarget{}, f.err
	}
	return domain.UploadTarget{URL: "http://api/v1/uploads/" + id + "/x-" + filename, Method: http.MethodPut, Path: id + "/x-" + filename, Token: "up"}, nil
}

func (f *receiptsFake) StoreReceipt(_ context.Context, path, token string, body io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, _ := io.ReadAll(body)
	f.path, f.token, f.stored = path, token, string(raw)
	return nil
}

func (f *receiptsFake) AcknowledgeReceipt(_ context.Context, actor domain.Actor, id, path, token string) (*domain.Claim, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.path, f.token = path, token
	return &domain.Claim{ID: id, OwnerID: actor.UserID, Status: domain.StatusDraft, ReceiptRef: &domain.ReceiptRef{Path: path}}, nil
}

func (f *receiptsFake) OpenReceipt(_ context.Context, _ domain.Actor, id string) (io.ReadCloser, domain.ReceiptRef, error) {
	if f.err != nil {
		return nil, domain.ReceiptRef{}, f.err
	}
	ref := domain.ReceiptRef{Path: id + "/x-r.pdf", ContentType: "application/pdf", SizeBytes: 8}
	return io.NopCloser(strings.NewReader("%PDF-1.4")), ref, nil
}

type reportsFake struct {
	err     error
	preview domain.CapRequest
}

func (f *reportsFake) Summary(context.Context, domain.Actor) (domain.ReportsSummary, error) {
	return domain.ReportsSummary{TotalClaims: 3, StatusCounts: map[string]int{"draft": 3}}, f.err
}

func (f *reportsFake) ExportReport(_ context.Context, _ domain.Actor, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK-workbook"))
	return err
}

func (f *reportsFake) PreviewCap(_ context.Context, _ domain.Actor, req domain.CapRequest) (domain.CapDecision, error) {
	f.preview = req
	if f.err != nil {
		return domain.CapDecision{}, f.err
	}
	return domain.CapDecision{Category: req.Category, Amount: req.Amount, ReimbursableAmount: req.Amount}, nil
}

type actorsFake struct {
	perms map[string][]string
	err   error
}

func (f actorsFake) ResolveActor(_ context.Context, userID string) (domain.Actor, error) {
	if f.err != nil {
		return domain.Actor{}, f.err
	}
	return domain.NewActor(userID, f.perms[userID]...), nil
}

type directoryFake struct {
	err     error
	name    string
	userID  string
	removed string
	calls   []string
}

func (f *directoryFake) team(id string) *domain.Team {
	return &domain.Team{ID: id, Name: "Platform", LeaderID: "lead", Members: []string{"lead", "alice"}}
}

func (f *directoryFake) group(id string) *domain.Group {
	return &domain.Group{ID: id, Name: "Offsite", CreatedBy: "alice", Members: []domain.GroupMember{{UserID: "alice", Status: domain.MemberAccepted}}}
}

func (f *directoryFake) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *directoryFake) ListTeams(context.Context, domain.Actor) ([]domain.Team, error) {
	if err := f.record("ListTeams"); err != nil {
		return nil, err
	}
	return []domain.Team{*f.team("t-1")}, nil
}

func (f *directoryFake) GetTeam(_ context.Context, _ domain.Actor, id string) (*domain.Team, error) {
	if err := f.record("GetTeam"); err != nil {
		return nil, err
	}
	if id != "t-1" {
		return nil, domain.WrapError(domain.ErrNotFound, "get team", errors.New(id))
	}
	return f.team(id), nil
}

func (f *directoryFake) CreateTeam(_ context.Context, _ domain.Actor, name string) (*domain.Team, error) {
	if err := f.record("CreateTeam"); err != nil {
		return nil, err
	}
	f.name = name
	t := f.team("t-2")
	t.Name = name
	return t, nil
}

func (f *directoryFake) RenameTeam(_ context.Context, _ domain.Actor, id, name string) (*domain.Team, error) {
	if err := f.record("RenameTeam"); err != nil {
		return nil, err
	}
	f.name = name
	t := f.team(id)
	t.Name = name
	return t, nil
}

func (f *directoryFake) AddTeamMember(_ context.Context, _ domain.Actor, id, userID string) (*domain.Team, error) {
	if err := f.record("AddTeamMember"); err != nil {
		return nil, err
	}
	f.userID = userID
	t := f.team(id)
	t.Members = append(t.Members, userID)
	return t, nil
}

func (f *directoryFake) RemoveTeamMember(_ context.Context, _ domain.Actor, id, userID string) (*domain.Team, error) {
	if err := f.record("RemoveTeamMember"); err != nil {
		return nil, err
	}
	f.removed = userID
	return f.team(id), nil
}

func (f *directoryFake) ListGroups(context.Context, domain.Actor) ([]domain.Group, error) {
	if err := f.record("ListGroups"); err != nil {
		return nil, err
	}
	return []domain.Group{*f.group("g-1")}, nil
}

func (f *directoryFake) GetGroup(_ context.Context, _ domain.Actor, id string) (*domain.Group, error) {
	if err := f.record("GetGroup"); err != nil {
		return nil, err
	}
	if id != "g-1" {
		return nil, domain.WrapError(domain.ErrNotFound, "get group", errors.New(id))
	}
	return f.group(id), nil
}

func (f *directoryFake) CreateGroup(_ context.Context, _ domain.Actor, name string) (*domain.Group, error) {
	if err := f.record("CreateGroup"); err != nil {
		return nil, err
	}
	f.name = name
	g := f.group("g-2")
	g.Name = name
	return g, nil
}

func (f *directoryFake) RenameGroup(_ context.Context, _ domain.Actor, id, name string) (*domain.Group, error) {
	if err := f.record("RenameGroup"); err != nil {
		return nil, err
	}
	f.name = name
	g := f.group(id)
	g.Name = name
	return g, nil
}

func (f *directoryFake) InviteGroupMember(_ context.Context, _ domain.Actor, id, userID string) (*domain.Group, error) {
	if err := f.record("InviteGroupMember"); err != nil {
		return nil, err
	}
	f.userID = userID
	g := f.group(id)
	g.Members = append(g.Members, domain.GroupMember{UserID: userID, Status: domain.MemberPending})
	return g, nil
}

func (f *directoryFake) AcceptInvite(_ context.Context, actor domain.Actor, id string) (*domain.Group, error) {
	if err := f.record("AcceptInvite"); err != nil {
		return nil, err
	}
	g := f.group(id)
	g.Members = append(g.Members, domain.GroupMember{UserID: actor.UserID, Status: domain.MemberAccepted})
	return g, nil
}

func (f *directoryFake) RejectInvite(context.Context, domain.Actor, string) error {
	return f.record("RejectInvite")
}

func (f *directoryFake) ListInvites(_ context.Context, actor domain.Actor) ([]domain.GroupInvite, error) {
	if err := f.record("ListInvites"); err != nil {
		return nil, err
	}
	return []domain.GroupInvite{{GroupID: "g-1", GroupName: "Offsite", UserID: actor.UserID, InvitedBy: "alice"}}, nil
}

type verifierFake struct{}

func (verifierFake) Verify(token string) (string, error) {
	if token == "alice-token" {
		return "alice", nil
	}
	return "", domain.WrapError(domain.ErrUnauthorized, "verify token", io.ErrUnexpectedEOF)
}

type testDeps struct {
	claims    *claimServiceFake
	receipts  *receiptsFake
	reports   *reportsFake
	directory *directoryFake
}

func newTestHandler(cfg config.Config) (http.Handler, testDeps) {
	deps := testDeps{claims: &claimServiceFake{}, receipts: &receiptsFake{}, reports: &reportsFake{}, directory: &directoryFake{}}
	router := NewRouter(cfg, deps.claims, deps.receipts, deps.reports,
		actorsFake{perms: map[string][]string{"fin": {domain.PermClaimsDisburse}}},
		deps.directory,
		WithIdentityVerifier(verifierFake{}),
	)
	return router.Handler(), deps
}
