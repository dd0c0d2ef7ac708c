package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

type claimRepoFake struct {
	mu     sync.Mutex
	claims map[string]*domain.Claim
	saves  int
	err    error
}

func newClaimRepoFake(claims ...*domain.Claim) *claimRepoFake {
	f := &claimRepoFake{claims: make(map[string]*domain.Claim)}
	for _, c := range claims {
		f.claims[c.ID] = c.Clone()
	}
	return f
}

func (f *claimRepoFake) Create(_ context.Context, claim *domain.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.claims[claim.ID] = claim.Clone()
	return nil
}

func (f *claimRepoFake) GetByID(_ context.Context, id string) (*domain.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrClaimNotFound, "get claim", fmt.Errorf("id=%s", id))
	}
	return c.Clone(), nil
}

func (f *claimRepoFake) List(_ context.Context, filter domain.ClaimFilter) (domain.ClaimPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := domain.ClaimPage{Page: filter.Page, PageSize: filter.PageSize, Items: []domain.Claim{}}
	for _, c := range f.claims {
		if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		page.Total++
		page.Items = append(page.Items, *c.Clone())
	}
	return page, nil
}

func (f *claimRepoFake) Save(_ context.Context, claim *domain.Claim, expected domain.ClaimStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	stored, ok := f.claims[claim.ID]
	if !ok {
		return domain.ErrClaimNotFound
	}
	if stored.Status != expected {
		return domain.WrapError(domain.ErrConflict, "save claim", fmt.Errorf("status is %s", stored.Status))
	}
	if !reflect.DeepEqual(stored.Extraction, claim.Extraction) {
		return domain.WrapError(domain.ErrConflict, "save claim", errors.New("extraction changed"))
	}
	next := claim.Clone()
	next.Extraction = stored.Extraction
	f.claims[claim.ID] = next
	f.saves++
	return nil
}

func (f *claimRepoFake) ReplaceReceipt(_ context.Context, id string, ref domain.ReceiptRef, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	stored, ok := f.claims[id]
	if !ok {
		return domain.ErrClaimNotFound
	}
	if stored.Status != domain.StatusDraft {
		return domain.WrapError(domain.ErrConflict, "replace receipt", fmt.Errorf("status is %s", stored.Status))
	}
	if stored.ReceiptRef == nil || stored.ReceiptRef.Path != ref.Path {
		stored.Extraction = nil
		stored.SupervisionLevel = domain.SupervisionNone
		stored.LegalReviewRequired = false
	}
	stored.ReceiptRef = &ref
	stored.UpdatedAt = updatedAt
	f.saves++
	return nil
}

func (f *claimRepoFake) SaveExtraction(_ context.Context, claim *domain.Claim) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.claims[claim.ID]
	if !ok {
		return false, domain.ErrClaimNotFound
	}
	if stored.Extraction.Succeeded() {
		return false, nil
	}
	if stored.ReceiptRef == nil || claim.ReceiptRef == nil || stored.ReceiptRef.Path != claim.ReceiptRef.Path {
		return false, nil
	}
	stored.Extraction = claim.Extraction.Clone()
	stored.SupervisionLevel = claim.SupervisionLevel
	stored.LegalReviewRequired = claim.LegalReviewRequired
	stored.UpdatedAt = claim.UpdatedAt
	return true, nil
}

func (f *claimRepoFake) DeleteDraft(_ context.Context, id, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok || c.OwnerID != ownerID || c.Status != domain.StatusDraft {
		return domain.ErrClaimNotFound
	}
	delete(f.claims, id)
	return nil
}

func (f *claimRepoFake) Summary(_ context.Context, ownerID string) (domain.ReportsSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := domain.ReportsSummary{StatusCounts: map[string]int{}, CategoryCounts: map[string]int{}}
	for _, c := range f.claims {
		if ownerID != "" && c.OwnerID != ownerID {
			continue
		}
		s.TotalClaims++
		s.StatusCounts[string(c.Status)]++
		s.CategoryCounts[string(c.Category)]++
		s.TotalAmount = s.TotalAmount.Add(c.Amount)
		if c.Status == domain.StatusDisbursed && c.ReimbursableAmount != nil {
			s.TotalReimbursedAmount = s.TotalReimbursedAmount.Add(*c.ReimbursableAmount)
		}
	}
	return s, nil
}

func (f *claimRepoFake) ListForReport(_ context.Context, ownerID string) ([]domain.Claim, error) {
	page, err := f.List(context.Background(), domain.ClaimFilter{OwnerID: ownerID})
	return page.Items, err
}

func (f *claimRepoFake) stored(id string) *domain.Claim {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id]
}

type directoryFake struct {
	teams     map[string]*domain.Team
	groups    map[string]*domain.Group
	invitedBy map[string]string
}

func newDirectoryFake() *directoryFake {
	return &directoryFake{teams: map[string]*domain.Team{}, groups: map[string]*domain.Group{}, invitedBy: map[string]string{}}
}

func (f *directoryFake) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	t, ok := f.teams[id]
	if !ok {
		return nil, nil
	}
	out := *t
	out.Members = append([]string(nil), t.Members...)
	return &out, nil
}

func (f *directoryFake) GetGroup(_ context.Context, id string) (*domain.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, nil
	}
	out := *g
	out.Members = append([]domain.GroupMember(nil), g.Members...)
	return &out, nil
}

func (f *directoryFake) ListTeamsFor(_ context.Context, userID string) ([]domain.Team, error) {
	out := []domain.Team{}
	for _, t := range f.teams {
		if t.LeaderID == userID || t.HasMember(userID) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *directoryFake) CreateTeam(_ context.Context, team domain.Team) error {
	f.teams[team.ID] = &team
	return nil
}

func (f *directoryFake) RenameTeam(_ context.Context, id, name string) error {
	t, ok := f.teams[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Name = name
	return nil
}

func (f *directoryFake) AddTeamMember(_ context.Context, teamID, userID string) error {
	t, ok := f.teams[teamID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.HasMember(userID) {
		return domain.WrapError(domain.ErrConflict, "add team member", errors.New("already a member"))
	}
	t.Members = append(t.Members, userID)
	return nil
}

func (f *directoryFake) RemoveTeamMember(_ context.Context, teamID, userID string) error {
	t, ok := f.teams[teamID]
	if !ok || !t.HasMember(userID) {
		return domain.WrapError(domain.ErrNotFound, "remove team member", errors.New("not a member"))
	}
	kept := t.Members[:0]
	for _, m := range t.Members {
		if m != userID {
			kept = append(kept, m)
		}
	}
	t.Members = kept
	return nil
}

func (f *directoryFake) ListGroupsFor(_ context.Context, userID string) ([]domain.Group, error) {
	out := []domain.Group{}
	for _, g := range f.groups {
		if g.CreatedBy == userID || isAcceptedMember(g, userID) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *directoryFake) CreateGroup(_ context.Context, group domain.Group) error {
	f.groups[group.ID] = &group
	return nil
}

func (f *directoryFake) RenameGroup(_ context.Context, id, name string) error {
	g, ok := f.groups[id]
	if !ok {
		return domain.ErrNotFound
	}
	g.Name = name
	return nil
}

func (f *directoryFake) InviteGroupMember(_ context.Context, groupID, userID, invitedBy string) error {
	g, ok := f.groups[groupID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, m := range g.Members {
		if m.UserID == userID {
			return domain.WrapError(domain.ErrConflict, "invite group member", errors.New("already invited"))
		}
	}
	g.Members = append(g.Members, domain.GroupMember{UserID: userID, Status: domain.MemberPending})
	f.invitedBy[groupID+"/"+userID] = invitedBy
	return nil
}

func (f *directoryFake) RespondToInvite(_ context.Context, groupID, userID string, accept bool) error {
	g, ok := f.groups[groupID]
	if ok {
		for i, m := range g.Members {
			if m.UserID != userID || m.Status != domain.MemberPending {
				continue
			}
			if accept {
				g.Members[i].Status = domain.MemberAccepted
			} else {
				g.Members = append(g.Members[:i], g.Members[i+1:]...)
			}
			return nil
		}
	}
	return domain.WrapError(domain.ErrNotFound, "respond to invite", errors.New("no pending invite"))
}

func (f *directoryFake) ListInvites(_ context.Context, userID string) ([]domain.GroupInvite, error) {
	out := []domain.GroupInvite{}
	for _, g := range f.groups {
		for _, m := range g.Members {
			if m.UserID == userID && m.Status == domain.MemberPending {
				out = append(out, domain.GroupInvite{GroupID: g.ID, GroupName: g.Name, UserID: userID, InvitedBy: f.invitedBy[g.ID+"/"+userID]})
			}
		}
	}
	return out, nil
}

type ledgerFake struct {
	mu      sync.Mutex
	spent   map[domain.CapKey]decimal.Decimal
	adjust  map[domain.CapKey]decimal.Decimal
	err     error
	charges int
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{spent: map[domain.CapKey]decimal.Decimal{}, adjust: map[domain.CapKey]decimal.Decimal{}}
}

func (f *ledgerFake) RemainingCap(_ context.Context, key domain.CapKey, limit decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return limit.Add(f.adjust[key]).Sub(f.spent[key]), nil
}

func (f *ledgerFake) Charge(_ context.Context, key domain.CapKey, limit decimal.Decimal, decide func(decimal.Decimal) domain.CapCharge) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, f.err
	}
	remaining := limit.Add(f.adjust[key]).Sub(f.spent[key])
	charge := decide(remaining)
	f.spent[key] = f.spent[key].Add(charge.Spend)
	if next, err := domain.NextPeriod(key.Period); err == nil {
		nk := domain.CapKey{UserID: key.UserID, Category: key.Category, Period: next}
		f.adjust[nk] = f.adjust[nk].Add(charge.NextPeriodDelta)
	}
	f.charges++
	return remaining, nil
}

type receiptStoreFake struct {
	targetFor string
	filename  string
	putBody   string
	ackErr    error
	ref       domain.ReceiptRef
	opened    string
}

func (f *receiptStoreFake) UploadTarget(_ context.Context, claimID, filename string) (domain.UploadTarget, error) {
	f.targetFor = claimID
	f.filename = filename
	path := claimID + "/" + filename
	return domain.UploadTarget{URL: "http://blob/" + path, Method: "PUT", Path: path, Token: "tok"}, nil
}

func (f *receiptStoreFake) Put(_ context.Context, _ string, token string, body io.Reader) error {
	if token != "tok" {
		return domain.WrapError(domain.ErrUnauthorized, "store receipt", errors.New("bad token"))
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.putBody = string(raw)
	return nil
}

func (f *receiptStoreFake) Acknowledge(_ context.Context, _, path, _ string) (domain.ReceiptRef, error) {
	if f.ackErr != nil {
		return domain.ReceiptRef{}, f.ackErr
	}
	ref := f.ref
	ref.Path = path
	return ref, nil
}

func (f *receiptStoreFake) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if f.putBody == "" {
		return nil, domain.WrapError(domain.ErrNotFound, "open receipt", fmt.Errorf("path=%s", path))
	}
	f.opened = path
	return io.NopCloser(strings.NewReader(f.putBody)), nil
}

type receiptEventsFake struct {
	events []domain.ReceiptAcknowledged
	err    error
}

func (f *receiptEventsFake) PublishReceiptAcknowledged(_ context.Context, event domain.ReceiptAcknowledged) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type reportWriterFake struct {
	summary domain.ReportsSummary
	claims  []domain.Claim
}

func (f *reportWriterFake) WriteReport(w io.Writer, summary domain.ReportsSummary, claims []domain.Claim) error {
	f.summary = summary
	f.claims = claims
	_, err := io.WriteString(w, "report")
	return err
}

type permissionStoreFake struct {
	perms map[string][]string
	err   error
}

func (f *permissionStoreFake) PermissionsFor(_ context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.perms[userID], nil
}
