// Package workflow sequences the creation of one claim: type selection, receipt upload,
// waiting for the receipt analysis, review and submission.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/allocation"
	"github.com/kirillkom/xpense/internal/core/domain"
)

type State string

const (
	StateChoosingType         State = "choosing_type"
	StateAwaitingReceipt      State = "awaiting_receipt"
	StateWaitingForExtraction State = "waiting_for_extraction"
	StateReview               State = "review"
	StateSubmitted            State = "submitted"
	StateAbandoned            State = "abandoned"
)

var (
	ErrWrongState         = errors.New("workflow is not in the required state")
	ErrAbandoned          = errors.New("workflow abandoned")
	ErrExtractionTimedOut = errors.New("extraction timed out")
	ErrWaitAlreadyRunning = errors.New("already waiting for extraction")
)

// Gateway is the claim API the workflow drives.
type Gateway interface {
	CreateDraft(ctx context.Context, input domain.DraftInput) (*domain.Claim, error)
	GetClaim(ctx context.Context, id string) (*domain.Claim, error)
	UpdateDraft(ctx context.Context, id string, patch domain.DraftPatch) (*domain.Claim, error)
	Transition(ctx context.Context, id string, to domain.ClaimStatus, reason string) (*domain.Claim, error)
	RequestUploadTarget(ctx context.Context, id, filename string) (domain.UploadTarget, error)
	Upload(ctx context.Context, target domain.UploadTarget, body io.Reader) error
	AcknowledgeReceipt(ctx context.Context, id, path, token string) (*domain.Claim, error)
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	GetGroup(ctx context.Context, id string) (*domain.Group, error)
}

// Watcher blocks until the claim carries an extraction, successful or failed.
// It returns ErrExtractionTimedOut when it gives up and ctx.Err() when cancelled.
type Watcher interface {
	Wait(ctx context.Context, claimID string) (*domain.Claim, error)
}

// Prefill is what the review step starts from.
type Prefill struct {
	Amount              decimal.Decimal         `json:"amount"`
	Merchant            string                  `json:"merchant"`
	Category            domain.Category         `json:"category,omitempty"`
	ExpenseDate         string                  `json:"expenseDate,omitempty"`
	Description         string                  `json:"description"`
	Manual              bool                    `json:"manual"`
	ManualReason        string                  `json:"manualReason,omitempty"`
	ExtractionError     *domain.ExtractionError `json:"extractionError,omitempty"`
	SupervisionLevel    domain.SupervisionLevel `json:"supervisionLevel"`
	LegalReviewRequired bool                    `json:"legalReviewRequired"`
}

// Fields are the values confirmed at review. A nil Allocation keeps the chosen one.
type Fields struct {
	Amount      decimal.Decimal
	Category    domain.Category
	ExpenseDate string
	Merchant    string
	Description string
	CapMode     domain.CapMode
	Allocation  domain.Allocation
}

// Draft is one claim-in-progress. Methods are safe for concurrent use, but the
// sequence itself is single-flight: at most one extraction wait runs at a time.
type Draft struct {
	gw      Gateway
	watcher Watcher

	mu         sync.Mutex
	state      State
	ownerID    string
	selection  domain.Allocation
	roster     allocation.Roster
	claim      *domain.Claim
	prefill    Prefill
	cancelWait context.CancelFunc
}

func New(gw Gateway, watcher Watcher, ownerID string) *Draft {
	return &Draft{
		gw:      gw,
		watcher: watcher,
		state:   StateChoosingType,
		ownerID: ownerID,
	}
}

func (d *Draft) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Claim returns a copy of the server-side draft, or nil before it was created.
func (d *Draft) Claim() *domain.Claim {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claim == nil {
		return nil
	}
	return d.claim.Clone()
}

func (d *Draft) Prefill() Prefill {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prefill
}

// ChooseType validates the allocation selection and advances to AwaitingReceipt.
// Group splits without recipients are seeded with the group's accepted members.
func (d *Draft) ChooseType(ctx context.Context, selection domain.Allocation) error {
	if err := d.expect(StateChoosingType); err != nil {
		return err
	}
	if selection == nil {
		selection = domain.PersonalAllocation{}
	}

	roster, err := d.loadRoster(ctx, selection)
	if err != nil {
		return err
	}
	selection = allocation.WithDefaults(selection, roster)
	if g, ok := selection.(domain.GroupAllocation); ok && g.Mode == domain.GroupModeSplit && len(g.Recipients) == 0 && roster.Group != nil {
		for _, m := range roster.Group.AcceptedMembers() {
			g.Recipients = append(g.Recipients, domain.Recipient{UserID: m, Amount: decimal.Zero})
		}
		selection = g
	}
	if err := allocation.ValidateSelection(selection, roster); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateChoosingType {
		return fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}
	if d.claim != nil {
		updated, err := d.gw.UpdateDraft(ctx, d.claim.ID, domain.DraftPatch{Allocation: selection})
		if err != nil {
			return fmt.Errorf("update draft allocation: %w", err)
		}
		d.claim = updated
	}
	d.selection = selection
	d.roster = roster
	d.state = StateAwaitingReceipt
	return nil
}

// Back returns from AwaitingReceipt to ChoosingType.
func (d *Draft) Back() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateAwaitingReceipt {
		return fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}
	d.state = StateChoosingType
	return nil
}

// AttachReceipt creates the draft if needed, uploads the receipt and acknowledges it.
// On failure the workflow stays in AwaitingReceipt with a valid receipt-less draft.
func (d *Draft) AttachReceipt(ctx context.Context, filename string, body io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateAwaitingReceipt {
		return fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}
	if err := d.ensureDraftLocked(ctx); err != nil {
		return err
	}

	target, err := d.gw.RequestUploadTarget(ctx, d.claim.ID, filename)
	if err != nil {
		return fmt.Errorf("request upload target: %w", err)
	}
	if err := d.gw.Upload(ctx, target, body); err != nil {
		return fmt.Errorf("upload receipt: %w", err)
	}
	claim, err := d.gw.AcknowledgeReceipt(ctx, d.claim.ID, target.Path, target.Token)
	if err != nil {
		return fmt.Errorf("acknowledge receipt: %w", err)
	}
	d.claim = claim
	d.state = StateWaitingForExtraction
	return nil
}

// SkipReceipt creates the draft if needed and goes straight to manual review.
func (d *Draft) SkipReceipt(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateAwaitingReceipt {
		return fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}
	if err := d.ensureDraftLocked(ctx); err != nil {
		return err
	}
	d.enterReviewLocked(nil, "no receipt")
	return nil
}

// WaitForExtraction suspends until the extraction arrives, fails, times out, or the
// workflow is abandoned. Cancelling ctx leaves the workflow waiting so it can be resumed.
func (d *Draft) WaitForExtraction(ctx context.Context) (Prefill, error) {
	d.mu.Lock()
	if d.state != StateWaitingForExtraction {
		d.mu.Unlock()
		return Prefill{}, fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}
	if d.cancelWait != nil {
		d.mu.Unlock()
		return Prefill{}, ErrWaitAlreadyRunning
	}
	waitCtx, cancel := context.WithCancel(ctx)
	d.cancelWait = cancel
	claimID := d.claim.ID
	d.mu.Unlock()

	claim, err := d.watcher.Wait(waitCtx, claimID)
	cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelWait = nil
	if d.state == StateAbandoned {
		return Prefill{}, ErrAbandoned
	}

	switch {
	case err == nil:
		d.claim = claim
		if claim.Extraction.Failed() {
			d.enterReviewLocked(claim, claim.Extraction.Error.Message)
		} else {
			d.enterReviewLocked(claim, "")
		}
	case errors.Is(err, ErrExtractionTimedOut):
		d.enterReviewLocked(nil, ErrExtractionTimedOut.Error())
	default:
		return Prefill{}, err
	}
	return d.prefill, nil
}

// Confirm writes the reviewed fields, normalizes split amounts against the confirmed
// total and submits the draft. A failed submission keeps the workflow in Review.
func (d *Draft) Confirm(ctx context.Context, f Fields) (*domain.Claim, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReview {
		return nil, fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}

	alloc := f.Allocation
	if alloc == nil {
		alloc = d.selection
	}
	alloc, err := allocation.Normalize(alloc, f.Amount)
	if err != nil {
		return nil, err
	}
	if err := allocation.Validate(alloc, f.Amount, d.roster); err != nil {
		return nil, err
	}

	amount := f.Amount.Round(2)
	category, date, merchant, description, mode := f.Category, f.ExpenseDate, f.Merchant, f.Description, f.CapMode
	patch := domain.DraftPatch{
		Amount:      &amount,
		Category:    &category,
		ExpenseDate: &date,
		Merchant:    &merchant,
		Description: &description,
		Allocation:  alloc,
	}
	if mode != "" {
		patch.CapMode = &mode
	}
	updated, err := d.gw.UpdateDraft(ctx, d.claim.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("save reviewed fields: %w", err)
	}
	d.claim = updated
	d.selection = alloc

	submitted, err := d.gw.Transition(ctx, d.claim.ID, domain.StatusPending, "")
	if err != nil {
		return nil, fmt.Errorf("submit claim: %w", err)
	}
	d.claim = submitted
	d.state = StateSubmitted
	return submitted.Clone(), nil
}

// Abandon stops the workflow at any step before submission. A created draft stays in
// draft status for the owner to delete later. Abandoning twice is a no-op.
func (d *Draft) Abandon() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateSubmitted:
		return fmt.Errorf("%w: %s", ErrWrongState, d.state)
	case StateAbandoned:
		return nil
	}
	d.state = StateAbandoned
	if d.cancelWait != nil {
		d.cancelWait()
	}
	return nil
}

func (d *Draft) expect(s State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != s {
		return fmt.Errorf("%w: %s", ErrWrongState, d.state)
	}
	return nil
}

func (d *Draft) ensureDraftLocked(ctx context.Context) error {
	if d.claim != nil {
		return nil
	}
	claim, err := d.gw.CreateDraft(ctx, domain.DraftInput{Amount: decimal.Zero, Allocation: d.selection})
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	d.claim = claim
	return nil
}

func (d *Draft) enterReviewLocked(claim *domain.Claim, manualReason string) {
	p := Prefill{Manual: manualReason != "", ManualReason: manualReason, SupervisionLevel: domain.SupervisionNone}
	if d.claim != nil {
		p.Amount = d.claim.Amount
		p.Merchant = d.claim.Merchant
		p.Category = d.claim.Category
		p.ExpenseDate = d.claim.ExpenseDate
		p.Description = d.claim.Description
	}
	if claim != nil && claim.Extraction != nil {
		ext := claim.Extraction
		if ext.Failed() {
			e := *ext.Error
			p.ExtractionError = &e
		} else {
			if ext.Amount != nil {
				p.Amount = *ext.Amount
			}
			if ext.Vendor != "" {
				p.Merchant = ext.Vendor
			}
			if c, ok := domain.CanonicalCategory(ext.Category); ok {
				p.Category = c
			}
			if date, err := domain.ParseDate(ext.Date); err == nil && date != "" {
				p.ExpenseDate = date
			}
			if ext.Summary != "" {
				p.Description = ext.Summary
			}
			p.SupervisionLevel = claim.SupervisionLevel
			p.LegalReviewRequired = claim.LegalReviewRequired
		}
	}
	d.prefill = p
	d.state = StateReview
}

func (d *Draft) loadRoster(ctx context.Context, selection domain.Allocation) (allocation.Roster, error) {
	roster := allocation.Roster{OwnerID: d.ownerID}
	switch v := selection.(type) {
	case domain.TeamAllocation:
		if v.TeamID == "" {
			return roster, nil
		}
		team, err := d.gw.GetTeam(ctx, v.TeamID)
		if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			return roster, fmt.Errorf("load team: %w", err)
		}
		roster.Team = team
	case domain.GroupAllocation:
		if v.GroupID == "" {
			return roster, nil
		}
		group, err := d.gw.GetGroup(ctx, v.GroupID)
		if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			return roster, fmt.Errorf("load group: %w", err)
		}
		roster.Group = group
	}
	return roster, nil
}
