package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

type gatewayFake struct {
	mu          sync.Mutex
	claims      map[string]*domain.Claim
	seq         int
	uploaded    string
	uploadErr   error
	submitCalls int
	submitErr   error
	groups      map[string]*domain.Group
	teams       map[string]*domain.Team
}

func newGatewayFake() *gatewayFake {
	return &gatewayFake{
		claims: map[string]*domain.Claim{},
		groups: map[string]*domain.Group{
			"g-1": {ID: "g-1", Members: []domain.GroupMember{
				{UserID: "alice", Status: domain.MemberAccepted},
				{UserID: "bob", Status: domain.MemberAccepted},
				{UserID: "carol", Status: domain.MemberAccepted},
				{UserID: "zed", Status: domain.MemberPending},
			}},
		},
		teams: map[string]*domain.Team{
			"t-1": {ID: "t-1", LeaderID: "lead", Members: []string{"alice"}},
		},
	}
}

func (f *gatewayFake) CreateDraft(_ context.Context, input domain.DraftInput) (*domain.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c := &domain.Claim{
		ID: fmt.Sprintf("c-%d", f.seq), OwnerID: "alice", Amount: input.Amount,
		Status: domain.StatusDraft, Allocation: input.Allocation,
	}
	f.claims[c.ID] = c
	return c.Clone(), nil
}

func (f *gatewayFake) GetClaim(_ context.Context, id string) (*domain.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return nil, domain.ErrClaimNotFound
	}
	return c.Clone(), nil
}

func (f *gatewayFake) UpdateDraft(_ context.Context, id string, patch domain.DraftPatch) (*domain.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.claims[id]
	if patch.Amount != nil {
		c.Amount = *patch.Amount
	}
	if patch.Merchant != nil {
		c.Merchant = *patch.Merchant
	}
	if patch.Category != nil {
		c.Category = *patch.Category
	}
	if patch.ExpenseDate != nil {
		c.ExpenseDate = *patch.ExpenseDate
	}
	if patch.Allocation != nil {
		c.Allocation = patch.Allocation
	}
	return c.Clone(), nil
}

func (f *gatewayFake) Transition(_ context.Context, id string, to domain.ClaimStatus, _ string) (*domain.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	c := f.claims[id]
	c.Status = to
	return c.Clone(), nil
}

func (f *gatewayFake) RequestUploadTarget(_ context.Context, id, filename string) (domain.UploadTarget, error) {
	return domain.UploadTarget{Path: id + "/" + filename, Token: "tok", Method: "PUT"}, nil
}

func (f *gatewayFake) Upload(_ context.Context, target domain.UploadTarget, body io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	raw, _ := io.ReadAll(body)
	f.mu.Lock()
	f.uploaded = target.Path + ":" + string(raw)
	f.mu.Unlock()
	return nil
}

func (f *gatewayFake) AcknowledgeReceipt(_ context.Context, id, path, _ string) (*domain.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.claims[id]
	c.ReceiptRef = &domain.ReceiptRef{Path: path}
	return c.Clone(), nil
}

func (f *gatewayFake) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	t, ok := f.teams[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get team", errors.New(id))
	}
	return t, nil
}

func (f *gatewayFake) GetGroup(_ context.Context, id string) (*domain.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get group", errors.New(id))
	}
	return g, nil
}

func (f *gatewayFake) status(id string) domain.ClaimStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id].Status
}

// watcherFake delivers whatever is pushed on arrivals; it never touches a timer.
type watcherFake struct {
	arrivals chan *domain.Claim
	err      error
	started  chan struct{}
}

func newWatcherFake() *watcherFake {
	return &watcherFake{arrivals: make(chan *domain.Claim, 1), started: make(chan struct{}, 1)}
}

func (w *watcherFake) Wait(ctx context.Context, _ string) (*domain.Claim, error) {
	w.started <- struct{}{}
	if w.err != nil {
		return nil, w.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-w.arrivals:
		return c, nil
	}
}

func throughUpload(t *testing.T, gw *gatewayFake, w Watcher, selection domain.Allocation) *Draft {
	t.Helper()
	d := New(gw, w, "alice")
	if err := d.ChooseType(context.Background(), selection); err != nil {
		t.Fatalf("ChooseType() error = %v", err)
	}
	if err := d.AttachReceipt(context.Background(), "r.pdf", strings.NewReader("%PDF")); err != nil {
		t.Fatalf("AttachReceipt() error = %v", err)
	}
	if d.State() != StateWaitingForExtraction {
		t.Fatalf("expected waiting state, got %s", d.State())
	}
	return d
}

func TestHappyPathPrefillsFromExtractionAndSubmits(t *testing.T) {
	gw := newGatewayFake()
	w := newWatcherFake()
	d := throughUpload(t, gw, w, domain.PersonalAllocation{})

	claim := d.Claim()
	if !claim.Amount.IsZero() || claim.ReceiptRef == nil {
		t.Fatalf("expected zero-amount draft with receipt, got %+v", claim)
	}

	amount := decimal.RequireFromString("18.40")
	arrived := claim.Clone()
	arrived.Extraction = &domain.Extraction{Amount: &amount, Vendor: "Cafe Nero", Category: "food", Date: "2026-03-02"}
	w.arrivals <- arrived

	prefill, err := d.WaitForExtraction(context.Background())
	if err != nil {
		t.Fatalf("WaitForExtraction() error = %v", err)
	}
	if prefill.Manual || !prefill.Amount.Equal(amount) || prefill.Merchant != "Cafe Nero" || prefill.Category != domain.CategoryMeals {
		t.Fatalf("unexpected prefill %+v", prefill)
	}

	submitted, err := d.Confirm(context.Background(), Fields{
		Amount: prefill.Amount, Category: prefill.Category, ExpenseDate: prefill.ExpenseDate, Merchant: prefill.Merchant,
	})
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if submitted.Status != domain.StatusPending || d.State() != StateSubmitted {
		t.Fatalf("expected submitted claim, got %s / %s", submitted.Status, d.State())
	}
}

func TestFailedExtractionEntersManualReview(t *testing.T) {
	gw := newGatewayFake()
	w := newWatcherFake()
	d := throughUpload(t, gw, w, nil)

	arrived := d.Claim()
	arrived.Extraction = &domain.Extraction{Error: &domain.ExtractionError{StatusCode: 422, Message: "unreadable receipt"}}
	w.arrivals <- arrived

	prefill, err := d.WaitForExtraction(context.Background())
	if err != nil {
		t.Fatalf("WaitForExtraction() error = %v", err)
	}
	if !prefill.Manual || prefill.ExtractionError == nil || prefill.ManualReason != "unreadable receipt" {
		t.Fatalf("expected manual review, got %+v", prefill)
	}
	if d.State() != StateReview {
		t.Fatalf("expected review, got %s", d.State())
	}
}

func TestTimeoutEntersManualReview(t *testing.T) {
	w := newWatcherFake()
	w.err = ErrExtractionTimedOut
	d := throughUpload(t, newGatewayFake(), w, nil)

	prefill, err := d.WaitForExtraction(context.Background())
	if err != nil {
		t.Fatalf("WaitForExtraction() error = %v", err)
	}
	if !prefill.Manual || prefill.ManualReason != "extraction timed out" {
		t.Fatalf("expected timeout manual review, got %+v", prefill)
	}
}

func TestAbandonWhileWaitingLeavesDraft(t *testing.T) {
	gw := newGatewayFake()
	w := newWatcherFake()
	d := throughUpload(t, gw, w, nil)
	id := d.Claim().ID

	done := make(chan error, 1)
	go func() {
		_, err := d.WaitForExtraction(context.Background())
		done <- err
	}()
	<-w.started

	if err := d.Abandon(); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrAbandoned) {
			t.Fatalf("expected ErrAbandoned, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wait did not stop after abandon")
	}

	if gw.status(id) != domain.StatusDraft || gw.submitCalls != 0 {
		t.Fatalf("abandoned draft must stay draft and never be submitted")
	}
	if _, err := d.Confirm(context.Background(), Fields{Amount: decimal.NewFromInt(1)}); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected confirm after abandon to fail, got %v", err)
	}
}

func TestCancelledWaitCanResume(t *testing.T) {
	w := newWatcherFake()
	d := throughUpload(t, newGatewayFake(), w, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.WaitForExtraction(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	<-w.started
	if d.State() != StateWaitingForExtraction {
		t.Fatalf("expected to remain waiting, got %s", d.State())
	}

	arrived := d.Claim()
	arrived.Extraction = &domain.Extraction{Vendor: "X"}
	w.arrivals <- arrived
	if _, err := d.WaitForExtraction(context.Background()); err != nil {
		t.Fatalf("resumed WaitForExtraction() error = %v", err)
	}
}

func TestBackReturnsToTypeSelection(t *testing.T) {
	d := New(newGatewayFake(), newWatcherFake(), "alice")
	if err := d.Back(); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected wrong state from ChoosingType, got %v", err)
	}
	if err := d.ChooseType(context.Background(), domain.PersonalAllocation{}); err != nil {
		t.Fatalf("ChooseType() error = %v", err)
	}
	if err := d.Back(); err != nil || d.State() != StateChoosingType {
		t.Fatalf("expected back to choosing type, got %v %s", err, d.State())
	}
}

func TestChooseTypeRejectsInvalidTeamRecipient(t *testing.T) {
	d := New(newGatewayFake(), newWatcherFake(), "alice")
	err := d.ChooseType(context.Background(), domain.TeamAllocation{TeamID: "t-1", ReimburseTo: "stranger"})
	if !domain.IsKind(err, domain.ErrInvalidInput) || d.State() != StateChoosingType {
		t.Fatalf("expected invalid selection to keep ChoosingType, got %v %s", err, d.State())
	}
}

func TestGroupSplitIsEquallyNormalisedOnConfirm(t *testing.T) {
	gw := newGatewayFake()
	d := New(gw, newWatcherFake(), "alice")
	if err := d.ChooseType(context.Background(), domain.GroupAllocation{GroupID: "g-1", Mode: domain.GroupModeSplit}); err != nil {
		t.Fatalf("ChooseType() error = %v", err)
	}
	if err := d.SkipReceipt(context.Background()); err != nil {
		t.Fatalf("SkipReceipt() error = %v", err)
	}
	if p := d.Prefill(); !p.Manual {
		t.Fatalf("expected manual review, got %+v", p)
	}

	claim, err := d.Confirm(context.Background(), Fields{
		Amount: decimal.RequireFromString("100.00"), Category: domain.CategoryTravel, ExpenseDate: "2026-03-02", Merchant: "Rail",
	})
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	g := claim.Allocation.(domain.GroupAllocation)
	want := []string{"33.34", "33.33", "33.33"}
	if len(g.Recipients) != 3 {
		t.Fatalf("expected accepted members only, got %+v", g.Recipients)
	}
	for i, r := range g.Recipients {
		if !r.Amount.Equal(decimal.RequireFromString(want[i])) {
			t.Fatalf("recipient %d: expected %s, got %s", i, want[i], r.Amount)
		}
	}
}

func TestUploadFailureKeepsAwaitingReceipt(t *testing.T) {
	gw := newGatewayFake()
	gw.uploadErr = domain.WrapError(domain.ErrTemporary, "upload", errors.New("blob store down"))
	d := New(gw, newWatcherFake(), "alice")
	_ = d.ChooseType(context.Background(), nil)

	if err := d.AttachReceipt(context.Background(), "r.pdf", strings.NewReader("x")); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if d.State() != StateAwaitingReceipt {
		t.Fatalf("expected AwaitingReceipt, got %s", d.State())
	}
	if c := d.Claim(); c == nil || c.Status != domain.StatusDraft || c.ReceiptRef != nil {
		t.Fatalf("expected valid receipt-less draft, got %+v", c)
	}
}

func TestSubmitFailureStaysInReview(t *testing.T) {
	gw := newGatewayFake()
	gw.submitErr = domain.Invalid("submit claim", "merchant is required")
	d := New(gw, newWatcherFake(), "alice")
	_ = d.ChooseType(context.Background(), nil)
	_ = d.SkipReceipt(context.Background())

	if _, err := d.Confirm(context.Background(), Fields{Amount: decimal.NewFromInt(5)}); err == nil {
		t.Fatalf("expected submit error")
	}
	if d.State() != StateReview {
		t.Fatalf("expected to stay in review, got %s", d.State())
	}
}
