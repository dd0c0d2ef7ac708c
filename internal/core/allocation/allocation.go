// Package allocation validates and populates reimbursement allocations.
// Everything here is pure: no I/O, no clock.
package allocation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

const operation = "validate allocation"

// Roster is the membership context an allocation is checked against.
type Roster struct {
	OwnerID string
	Team    *domain.Team
	Group   *domain.Group
}

// Validate checks that the allocation is internally consistent and sums to total.
func Validate(a domain.Allocation, total decimal.Decimal, roster Roster) error {
	return validate(a, total, roster, true)
}

// ValidateSelection checks the structure of an allocation before the claim amount is known.
// Split amounts are not compared against a total.
func ValidateSelection(a domain.Allocation, roster Roster) error {
	return validate(a, decimal.Zero, roster, false)
}

func validate(a domain.Allocation, total decimal.Decimal, roster Roster, checkSum bool) error {
	switch v := a.(type) {
	case nil:
		return domain.Invalid(operation, "allocation is required")
	case domain.PersonalAllocation:
		return nil
	case domain.TeamAllocation:
		return validateTeam(v, roster)
	case domain.GroupAllocation:
		return validateGroup(v, total, roster, checkSum)
	default:
		return domain.Invalid(operation, fmt.Sprintf("unknown allocation %T", a))
	}
}

func validateTeam(v domain.TeamAllocation, roster Roster) error {
	if strings.TrimSpace(v.TeamID) == "" {
		return domain.Invalid(operation, "team allocation requires a team")
	}
	if roster.Team == nil || roster.Team.ID != v.TeamID {
		return domain.Invalid(operation, fmt.Sprintf("team %s not found", v.TeamID))
	}
	if strings.TrimSpace(v.ReimburseTo) == "" {
		return domain.Invalid(operation, "team allocation requires a recipient")
	}
	if !teamIncludes(*roster.Team, v.ReimburseTo) {
		return domain.Invalid(operation, "team recipient is not a member of the team")
	}
	if roster.OwnerID != "" && !teamIncludes(*roster.Team, roster.OwnerID) {
		return domain.Invalid(operation, "filer is not a member of the team")
	}
	return nil
}

func teamIncludes(t domain.Team, userID string) bool {
	return t.LeaderID == userID || t.HasMember(userID)
}

func validateGroup(v domain.GroupAllocation, total decimal.Decimal, roster Roster, checkSum bool) error {
	if v.GroupID != "" {
		if roster.Group == nil || roster.Group.ID != v.GroupID {
			return domain.Invalid(operation, fmt.Sprintf("group %s not found", v.GroupID))
		}
		if roster.OwnerID != "" && !contains(roster.Group.AcceptedMembers(), roster.OwnerID) {
			return domain.Invalid(operation, "filer is not an accepted member of the group")
		}
	}

	switch v.Mode {
	case domain.GroupModeFullToFiler:
		if len(v.Recipients) == 0 {
			return nil
		}
		if len(v.Recipients) != 1 || v.Recipients[0].UserID != roster.OwnerID {
			return domain.Invalid(operation, "full-to-filer allocation must name only the filer")
		}
		if checkSum && !domain.WithinEpsilon(v.Recipients[0].Amount, total) {
			return domain.Invalid(operation, "full-to-filer recipient must receive the full claim amount")
		}
		return nil
	case domain.GroupModeSplit:
		return validateSplit(v, total, roster, checkSum)
	default:
		return domain.Invalid(operation, fmt.Sprintf("unknown group mode %q", v.Mode))
	}
}

func validateSplit(v domain.GroupAllocation, total decimal.Decimal, roster Roster, checkSum bool) error {
	if len(v.Recipients) == 0 {
		return domain.Invalid(operation, "split has no recipients")
	}

	seen := make(map[string]struct{}, len(v.Recipients))
	sum := decimal.Zero
	for _, r := range v.Recipients {
		if strings.TrimSpace(r.UserID) == "" {
			return domain.Invalid(operation, "split recipient requires a user")
		}
		if _, dup := seen[r.UserID]; dup {
			return domain.Invalid(operation, fmt.Sprintf("split names %s more than once", r.UserID))
		}
		if r.Amount.IsNegative() {
			return domain.Invalid(operation, "split amounts must not be negative")
		}
		seen[r.UserID] = struct{}{}
		sum = sum.Add(r.Amount)
	}

	if checkSum && !domain.WithinEpsilon(sum, total) {
		return domain.Invalid(operation, fmt.Sprintf("split does not sum to claim amount (%s != %s)", sum.StringFixed(2), total.StringFixed(2)))
	}

	if v.GroupID != "" && !sameMembers(seen, roster.Group.AcceptedMembers()) {
		return domain.Invalid(operation, "group-attributed split must include exactly the group's accepted members")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sameMembers(seen map[string]struct{}, members []string) bool {
	if len(seen) != len(members) {
		return false
	}
	for _, m := range members {
		if _, ok := seen[m]; !ok {
			return false
		}
	}
	return true
}

// WithDefaults fills the team recipient with the team leader when it was left empty.
func WithDefaults(a domain.Allocation, roster Roster) domain.Allocation {
	if t, ok := a.(domain.TeamAllocation); ok && t.ReimburseTo == "" && roster.Team != nil && roster.Team.ID == t.TeamID {
		t.ReimburseTo = roster.Team.LeaderID
		return t
	}
	return a
}

// EqualSplit divides total across members in cents. Every member gets floor(total/n);
// the leftover cents go one each to the first members in the given order, so the
// amounts always sum exactly to total.
func EqualSplit(total decimal.Decimal, members []string) ([]domain.Recipient, error) {
	if len(members) == 0 {
		return nil, domain.Invalid(operation, "split has no recipients")
	}
	if total.IsNegative() {
		return nil, domain.Invalid(operation, "split total must not be negative")
	}

	cents := total.Round(2).Shift(2).IntPart()
	n := int64(len(members))
	base := cents / n
	leftover := cents - base*n

	out := make([]domain.Recipient, len(members))
	for i, m := range members {
		share := base
		if int64(i) < leftover {
			share++
		}
		out[i] = domain.Recipient{UserID: m, Amount: decimal.New(share, -2)}
	}
	return out, nil
}

// Normalize re-derives split amounts for a confirmed total. Recipient amounts are kept
// when they already sum to total; otherwise the same recipients share it equally.
// Non-split allocations are returned unchanged.
func Normalize(a domain.Allocation, total decimal.Decimal) (domain.Allocation, error) {
	g, ok := a.(domain.GroupAllocation)
	if !ok {
		return a, nil
	}
	switch g.Mode {
	case domain.GroupModeFullToFiler:
		if len(g.Recipients) == 1 {
			g.Recipients = []domain.Recipient{{UserID: g.Recipients[0].UserID, Amount: total.Round(2)}}
		}
		return g, nil
	case domain.GroupModeSplit:
		sum := decimal.Zero
		for _, r := range g.Recipients {
			sum = sum.Add(r.Amount)
		}
		if len(g.Recipients) > 0 && domain.WithinEpsilon(sum, total) {
			return domain.CloneAllocation(g), nil
		}
		ids := make([]string, len(g.Recipients))
		for i, r := range g.Recipients {
			ids[i] = r.UserID
		}
		recipients, err := EqualSplit(total, ids)
		if err != nil {
			return nil, err
		}
		g.Recipients = recipients
		return g, nil
	default:
		return g, nil
	}
}

// Payouts resolves the allocation into concrete recipient lines.
func Payouts(a domain.Allocation, ownerID string, total decimal.Decimal) ([]domain.Recipient, error) {
	switch v := a.(type) {
	case nil, domain.PersonalAllocation:
		return []domain.Recipient{{UserID: ownerID, Amount: total}}, nil
	case domain.TeamAllocation:
		return []domain.Recipient{{UserID: v.ReimburseTo, Amount: total}}, nil
	case domain.GroupAllocation:
		if v.Mode == domain.GroupModeSplit {
			return append([]domain.Recipient(nil), v.Recipients...), nil
		}
		return []domain.Recipient{{UserID: ownerID, Amount: total}}, nil
	default:
		return nil, domain.Invalid(operation, fmt.Sprintf("unknown allocation %T", a))
	}
}
