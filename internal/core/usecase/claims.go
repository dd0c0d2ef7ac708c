package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/xpense/internal/core/allocation"
	"github.com/kirillkom/xpense/internal/core/capping"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/lifecycle"
	"github.com/kirillkom/xpense/internal/core/ports"
	"github.com/kirillkom/xpense/internal/core/reconcile"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	draftSaveAttempts = 3
)

type ClaimUseCase struct {
	repo      ports.ClaimRepository
	directory ports.Directory
	caps      *capping.Evaluator
	reconcile reconcile.Options
	now       func() time.Time
}

func NewClaimUseCase(
	repo ports.ClaimRepository,
	directory ports.Directory,
	caps *capping.Evaluator,
	reconcileOpts reconcile.Options,
) *ClaimUseCase {
	return &ClaimUseCase{
		repo:      repo,
		directory: directory,
		caps:      caps,
		reconcile: reconcileOpts,
		now:       time.Now,
	}
}

func (uc *ClaimUseCase) CreateDraft(ctx context.Context, actor domain.Actor, input domain.DraftInput) (*domain.Claim, error) {
	const op = "create draft"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}

	if input.Amount.IsNegative() {
		return nil, domain.Invalid(op, "amount must not be negative")
	}
	category, err := optionalCategory(op, string(input.Category))
	if err != nil {
		return nil, err
	}
	date, err := domain.ParseDate(input.ExpenseDate)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	mode, ok := domain.ParseCapMode(string(input.CapMode))
	if !ok {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown cap mode %q", input.CapMode))
	}

	alloc := input.Allocation
	if alloc == nil {
		alloc = domain.PersonalAllocation{}
	}
	roster, err := uc.roster(ctx, actor.UserID, alloc)
	if err != nil {
		return nil, err
	}
	alloc = allocation.WithDefaults(alloc, roster)
	if err := allocation.ValidateSelection(alloc, roster); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	claim := &domain.Claim{
		ID:               uuid.NewString(),
		OwnerID:          actor.UserID,
		Amount:           input.Amount.Round(2),
		Category:         category,
		ExpenseDate:      date,
		Merchant:         strings.TrimSpace(input.Merchant),
		Description:      strings.TrimSpace(input.Description),
		Status:           domain.StatusDraft,
		Allocation:       alloc,
		CapMode:          mode,
		SupervisionLevel: domain.SupervisionNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.repo.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	return claim, nil
}

func (uc *ClaimUseCase) GetClaim(ctx context.Context, actor domain.Actor, id string) (*domain.Claim, error) {
	const op = "get claim"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	claim, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim.OwnerID != actor.UserID && !actor.SeesAllClaims() {
		return nil, domain.Denied(op, "claim belongs to another user")
	}
	return claim, nil
}

func (uc *ClaimUseCase) ListClaims(ctx context.Context, actor domain.Actor, filter domain.ClaimFilter) (domain.ClaimPage, error) {
	const op = "list claims"
	if err := requireActor(op, actor); err != nil {
		return domain.ClaimPage{}, err
	}
	if !actor.SeesAllClaims() {
		filter.OwnerID = actor.UserID
	}
	if filter.Status != "" {
		if _, ok := domain.ParseStatus(string(filter.Status)); !ok {
			return domain.ClaimPage{}, domain.Invalid(op, fmt.Sprintf("unknown status %q", filter.Status))
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = defaultPageSize
	case filter.PageSize > maxPageSize:
		filter.PageSize = maxPageSize
	}
	return uc.repo.List(ctx, filter)
}

func (uc *ClaimUseCase) UpdateDraft(ctx context.Context, actor domain.Actor, id string, patch domain.DraftPatch) (*domain.Claim, error) {
	const op = "update draft"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, domain.Invalid(op, "nothing to update")
	}

	var lastErr error
	for attempt := 0; attempt < draftSaveAttempts; attempt++ {
		current, err := uc.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := lifecycle.CanEdit(current, actor); err != nil {
			return nil, err
		}

		claim := current.Clone()
		if err := uc.applyPatch(ctx, op, claim, patch); err != nil {
			return nil, err
		}
		reconcile.Apply(claim, reconcile.Reconcile(uc.reconcile, claim))
		claim.UpdatedAt = uc.now().UTC()

		err = uc.repo.Save(ctx, claim, domain.StatusDraft)
		if err == nil {
			return claim, nil
		}
		if !domain.IsKind(err, domain.ErrConflict) {
			return nil, fmt.Errorf("save draft: %w", err)
		}
		// An extraction landed between the read and the write; reconcile against it.
		lastErr = err
	}
	return nil, fmt.Errorf("save draft: %w", lastErr)
}

func (uc *ClaimUseCase) applyPatch(ctx context.Context, op string, claim *domain.Claim, patch domain.DraftPatch) error {
	if patch.Amount != nil {
		if patch.Amount.IsNegative() {
			return domain.Invalid(op, "amount must not be negative")
		}
		claim.Amount = patch.Amount.Round(2)
	}
	if patch.Category != nil {
		category, err := optionalCategory(op, string(*patch.Category))
		if err != nil {
			return err
		}
		claim.Category = category
	}
	if patch.ExpenseDate != nil {
		date, err := domain.ParseDate(*patch.ExpenseDate)
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, op, err)
		}
		claim.ExpenseDate = date
	}
	if patch.Merchant != nil {
		claim.Merchant = strings.TrimSpace(*patch.Merchant)
	}
	if patch.Description != nil {
		claim.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.CapMode != nil {
		mode, ok := domain.ParseCapMode(string(*patch.CapMode))
		if !ok {
			return domain.Invalid(op, fmt.Sprintf("unknown cap mode %q", *patch.CapMode))
		}
		claim.CapMode = mode
	}
	if patch.Allocation != nil {
		roster, err := uc.roster(ctx, claim.OwnerID, patch.Allocation)
		if err != nil {
			return err
		}
		alloc := allocation.WithDefaults(patch.Allocation, roster)
		if err := allocation.ValidateSelection(alloc, roster); err != nil {
			return err
		}
		claim.Allocation = alloc
	}
	return nil
}

func (uc *ClaimUseCase) DeleteDraft(ctx context.Context, actor domain.Actor, id string) error {
	const op = "delete draft"
	if err := requireActor(op, actor); err != nil {
		return err
	}
	claim, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := lifecycle.CanDelete(claim, actor); err != nil {
		return err
	}
	if err := uc.repo.DeleteDraft(ctx, id, actor.UserID); err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	return nil
}

// Transition runs a status change through the lifecycle rules. Supervision is derived
// again from the stored extraction before the rules run. Submitting also charges the cap
// ledger; a ledger failure aborts before any status write.
func (uc *ClaimUseCase) Transition(ctx context.Context, actor domain.Actor, id string, to domain.ClaimStatus, reason string) (*domain.Claim, error) {
	const op = "transition claim"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	if _, ok := domain.ParseStatus(string(to)); !ok {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown status %q", to))
	}

	stored, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	current := stored.Clone()
	reconcile.Apply(current, reconcile.Reconcile(uc.reconcile, current))

	cmd := lifecycle.Command{Actor: actor, To: to, Reason: reason, Now: uc.now().UTC()}
	if current.Status == domain.StatusDraft && to == domain.StatusPending {
		cmd.Roster, err = uc.roster(ctx, current.OwnerID, current.Allocation)
		if err != nil {
			return nil, err
		}
	}

	next, action, err := lifecycle.Apply(current, cmd)
	if err != nil {
		return nil, err
	}

	if action == lifecycle.ActionSubmit {
		decision, err := uc.caps.Commit(ctx, domain.CapRequest{
			OwnerID:  next.OwnerID,
			Category: next.Category,
			Amount:   next.Amount,
			Mode:     next.CapMode,
			Period:   next.Period(cmd.Now),
		})
		if err != nil {
			return nil, err
		}
		reimbursable := decision.ReimbursableAmount
		next.ReimbursableAmount = &reimbursable
		next.PolicyFlags = decision.Flags
	}

	if err := uc.repo.Save(ctx, next, current.Status); err != nil {
		return nil, fmt.Errorf("save claim status: %w", err)
	}
	return next, nil
}

// roster loads the team or group an allocation refers to. Missing entries stay nil and
// are reported by allocation validation.
func (uc *ClaimUseCase) roster(ctx context.Context, ownerID string, alloc domain.Allocation) (allocation.Roster, error) {
	roster := allocation.Roster{OwnerID: ownerID}
	switch v := alloc.(type) {
	case domain.TeamAllocation:
		if v.TeamID == "" {
			return roster, nil
		}
		team, err := uc.directory.GetTeam(ctx, v.TeamID)
		if err != nil {
			return roster, fmt.Errorf("load team: %w", err)
		}
		roster.Team = team
	case domain.GroupAllocation:
		if v.GroupID == "" {
			return roster, nil
		}
		group, err := uc.directory.GetGroup(ctx, v.GroupID)
		if err != nil {
			return roster, fmt.Errorf("load group: %w", err)
		}
		roster.Group = group
	}
	return roster, nil
}

func requireActor(op string, actor domain.Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("identity is required"))
	}
	return nil
}

func optionalCategory(op, raw string) (domain.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	category, ok := domain.ParseCategory(raw)
	if !ok {
		return "", domain.Invalid(op, fmt.Sprintf("unknown category %q", raw))
	}
	return category, nil
}
