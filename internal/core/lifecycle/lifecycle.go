// Package lifecycle owns claim status transitions.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/xpense/internal/core/allocation"
	"github.com/kirillkom/xpense/internal/core/domain"
)

type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionDisburse Action = "disburse"
)

type reasonRule int

const (
	reasonOptional reasonRule = iota
	reasonAlways
	reasonWhenHighSupervision
)

type edge struct {
	from domain.ClaimStatus
	to   domain.ClaimStatus
}

type rule struct {
	action     Action
	ownerOnly  bool
	permission string
	reason     reasonRule
}

// transitions is the complete set of legal status changes; any other pair is invalid.
var transitions = map[edge]rule{
	{domain.StatusDraft, domain.StatusPending}: {
		action: ActionSubmit, ownerOnly: true,
	},
	{domain.StatusPending, domain.StatusApproved}: {
		action: ActionApprove, permission: domain.PermClaimsApprove, reason: reasonWhenHighSupervision,
	},
	{domain.StatusPending, domain.StatusRejected}: {
		action: ActionReject, permission: domain.PermClaimsApprove, reason: reasonAlways,
	},
	{domain.StatusApproved, domain.StatusDisbursed}: {
		action: ActionDisburse, permission: domain.PermClaimsDisburse,
	},
	{domain.StatusApproved, domain.StatusRejected}: {
		action: ActionReject, permission: domain.PermClaimsDisburse, reason: reasonAlways,
	},
}

// Command is one requested status change. Roster is only consulted on submit.
type Command struct {
	Actor  domain.Actor
	To     domain.ClaimStatus
	Reason string
	Roster allocation.Roster
	Now    time.Time
}

// Apply validates the command against claim and returns the updated copy together with
// the action performed. claim itself is never modified.
func Apply(claim *domain.Claim, cmd Command) (*domain.Claim, Action, error) {
	const op = "transition claim"

	r, ok := transitions[edge{from: claim.Status, to: cmd.To}]
	if !ok {
		return nil, "", domain.Invalid(op, fmt.Sprintf("transition from %s to %s is not allowed", claim.Status, cmd.To))
	}

	if r.ownerOnly && cmd.Actor.UserID != claim.OwnerID {
		return nil, "", domain.Denied(op, fmt.Sprintf("only the owner may %s a claim", r.action))
	}
	if r.permission != "" && !cmd.Actor.Has(r.permission) {
		return nil, "", domain.Denied(op, fmt.Sprintf("%s requires permission %s", r.action, r.permission))
	}

	reason := strings.TrimSpace(cmd.Reason)
	switch r.reason {
	case reasonAlways:
		if reason == "" {
			return nil, "", domain.Invalid(op, fmt.Sprintf("%s requires a reason", r.action))
		}
	case reasonWhenHighSupervision:
		if reason == "" && claim.SupervisionLevel == domain.SupervisionHigh {
			return nil, "", domain.Invalid(op, "approving a high-supervision claim requires a reason")
		}
	}

	if r.action == ActionSubmit {
		if err := ValidateSubmission(claim, cmd.Roster); err != nil {
			return nil, "", err
		}
	}

	next := claim.Clone()
	next.Status = cmd.To
	switch r.action {
	case ActionApprove, ActionReject:
		next.StatusReason = cmd.Reason
	case ActionSubmit:
		next.StatusReason = ""
	}
	if !cmd.Now.IsZero() {
		next.UpdatedAt = cmd.Now
	}
	return next, r.action, nil
}

// ValidateSubmission checks the fields a claim must carry to leave draft.
func ValidateSubmission(claim *domain.Claim, roster allocation.Roster) error {
	const op = "submit claim"

	if !claim.Amount.IsPositive() {
		return domain.Invalid(op, "amount must be greater than zero")
	}
	if _, ok := domain.ParseCategory(string(claim.Category)); !ok {
		return domain.Invalid(op, "category is required")
	}
	if strings.TrimSpace(claim.Merchant) == "" {
		return domain.Invalid(op, "merchant is required")
	}
	if strings.TrimSpace(claim.ExpenseDate) == "" {
		return domain.Invalid(op, "expense date is required")
	}
	return allocation.Validate(claim.Allocation, claim.Amount, roster)
}

// CanEdit reports whether actor may change the descriptive fields or allocation of claim.
func CanEdit(claim *domain.Claim, actor domain.Actor) error {
	return draftOwnerOnly("edit claim", claim, actor)
}

// CanDelete reports whether actor may delete claim.
func CanDelete(claim *domain.Claim, actor domain.Actor) error {
	return draftOwnerOnly("delete claim", claim, actor)
}

func draftOwnerOnly(op string, claim *domain.Claim, actor domain.Actor) error {
	if claim.OwnerID != actor.UserID {
		return domain.Denied(op, "only the owner may change a claim")
	}
	if claim.Status != domain.StatusDraft {
		return domain.Invalid(op, fmt.Sprintf("claim is %s; only drafts can be changed", claim.Status))
	}
	return nil
}

// Available lists the statuses actor could move claim to, ignoring reason requirements.
func Available(claim *domain.Claim, actor domain.Actor) []domain.ClaimStatus {
	var out []domain.ClaimStatus
	for _, to := range []domain.ClaimStatus{domain.StatusPending, domain.StatusApproved, domain.StatusRejected, domain.StatusDisbursed} {
		r, ok := transitions[edge{from: claim.Status, to: to}]
		if !ok {
			continue
		}
		if r.ownerOnly && actor.UserID != claim.OwnerID {
			continue
		}
		if r.permission != "" && !actor.Has(r.permission) {
			continue
		}
		out = append(out, to)
	}
	return out
}
