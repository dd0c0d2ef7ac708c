package allocation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sumOf(rs []domain.Recipient) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rs {
		total = total.Add(r.Amount)
	}
	return total
}

func testGroup() *domain.Group {
	return &domain.Group{
		ID: "g-1",
		Members: []domain.GroupMember{
			{UserID: "u-1", Status: domain.MemberAccepted},
			{UserID: "u-2", Status: domain.MemberAccepted},
			{UserID: "u-3", Status: domain.MemberAccepted},
			{UserID: "u-4", Status: domain.MemberPending},
		},
	}
}

func TestEqualSplitSumsExactlyWithRemainderToFirstRecipients(t *testing.T) {
	recipients, err := EqualSplit(amt("100.00"), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EqualSplit() error = %v", err)
	}
	want := []string{"33.34", "33.33", "33.33"}
	for i, r := range recipients {
		if !r.Amount.Equal(amt(want[i])) {
			t.Fatalf("recipient %d: expected %s, got %s", i, want[i], r.Amount)
		}
	}
	if !sumOf(recipients).Equal(amt("100.00")) {
		t.Fatalf("expected exact sum 100.00, got %s", sumOf(recipients))
	}
}

func TestEqualSplitSumsExactlyForManyTotals(t *testing.T) {
	totals := []string{"0.01", "0.05", "1", "10.01", "99.99", "1234.56", "7"}
	for _, total := range totals {
		for n := 1; n <= 9; n++ {
			members := make([]string, n)
			for i := range members {
				members[i] = string(rune('a' + i))
			}
			recipients, err := EqualSplit(amt(total), members)
			if err != nil {
				t.Fatalf("EqualSplit(%s, %d) error = %v", total, n, err)
			}
			if !sumOf(recipients).Equal(amt(total)) {
				t.Fatalf("EqualSplit(%s, %d) sums to %s", total, n, sumOf(recipients))
			}
			for i := 1; i < len(recipients); i++ {
				if recipients[i].Amount.GreaterThan(recipients[i-1].Amount) {
					t.Fatalf("leftover cents must go to the first recipients, got %+v", recipients)
				}
			}
		}
	}
}

func TestEqualSplitRejectsEmptyMembers(t *testing.T) {
	_, err := EqualSplit(amt("10"), nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestValidateSplitSumMismatchNamesRule(t *testing.T) {
	alloc := domain.GroupAllocation{
		Mode: domain.GroupModeSplit,
		Recipients: []domain.Recipient{
			{UserID: "u-1", Amount: amt("10")},
			{UserID: "u-2", Amount: amt("10")},
		},
	}
	err := Validate(alloc, amt("25"), Roster{OwnerID: "u-1"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "split does not sum to claim amount") {
		t.Fatalf("expected rule in message, got %v", err)
	}
}

func TestValidateSplitWithinEpsilon(t *testing.T) {
	alloc := domain.GroupAllocation{
		Mode: domain.GroupModeSplit,
		Recipients: []domain.Recipient{
			{UserID: "u-1", Amount: amt("33.33")},
			{UserID: "u-2", Amount: amt("33.33")},
			{UserID: "u-3", Amount: amt("33.33")},
		},
	}
	if err := Validate(alloc, amt("100.00"), Roster{OwnerID: "u-1"}); err != nil {
		t.Fatalf("expected split within 0.01 to pass, got %v", err)
	}
}

func TestValidateSplitRejectsZeroRecipients(t *testing.T) {
	alloc := domain.GroupAllocation{Mode: domain.GroupModeSplit}
	err := Validate(alloc, amt("10"), Roster{OwnerID: "u-1"})
	if err == nil || !strings.Contains(err.Error(), "split has no recipients") {
		t.Fatalf("expected no recipients error, got %v", err)
	}
}

func TestValidateSplitRejectsDuplicateRecipient(t *testing.T) {
	alloc := domain.GroupAllocation{
		Mode: domain.GroupModeSplit,
		Recipients: []domain.Recipient{
			{UserID: "u-1", Amount: amt("5")},
			{UserID: "u-1", Amount: amt("5")},
		},
	}
	if err := Validate(alloc, amt("10"), Roster{OwnerID: "u-1"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestValidateTaggedSplitRequiresAcceptedMemberSet(t *testing.T) {
	group := testGroup()
	partial := domain.GroupAllocation{
		GroupID: "g-1",
		Mode:    domain.GroupModeSplit,
		Recipients: []domain.Recipient{
			{UserID: "u-1", Amount: amt("15")},
			{UserID: "u-2", Amount: amt("15")},
		},
	}
	err := Validate(partial, amt("30"), Roster{OwnerID: "u-1", Group: group})
	if err == nil || !strings.Contains(err.Error(), "accepted members") {
		t.Fatalf("expected group attribution error, got %v", err)
	}

	full := partial
	full.Recipients, _ = EqualSplit(amt("30"), group.AcceptedMembers())
	if err := Validate(full, amt("30"), Roster{OwnerID: "u-1", Group: group}); err != nil {
		t.Fatalf("expected full accepted split to pass, got %v", err)
	}

	untagged := partial
	untagged.GroupID = ""
	if err := Validate(untagged, amt("30"), Roster{OwnerID: "u-1"}); err != nil {
		t.Fatalf("expected untagged custom split to pass, got %v", err)
	}
}

func TestValidateTeamRecipientMustBeMember(t *testing.T) {
	team := &domain.Team{ID: "t-1", LeaderID: "lead", Members: []string{"u-1", "u-2"}}

	ok := domain.TeamAllocation{TeamID: "t-1", ReimburseTo: "u-2"}
	if err := Validate(ok, amt("10"), Roster{OwnerID: "u-1", Team: team}); err != nil {
		t.Fatalf("expected member recipient to pass, got %v", err)
	}

	leader := domain.TeamAllocation{TeamID: "t-1", ReimburseTo: "lead"}
	if err := Validate(leader, amt("10"), Roster{OwnerID: "u-1", Team: team}); err != nil {
		t.Fatalf("expected leader recipient to pass, got %v", err)
	}

	outsider := domain.TeamAllocation{TeamID: "t-1", ReimburseTo: "stranger"}
	err := Validate(outsider, amt("10"), Roster{OwnerID: "u-1", Team: team})
	if err == nil || !strings.Contains(err.Error(), "not a member of the team") {
		t.Fatalf("expected membership error, got %v", err)
	}
}

func TestValidateFullToFilerCarriesFullAmount(t *testing.T) {
	alloc := domain.GroupAllocation{
		Mode:       domain.GroupModeFullToFiler,
		Recipients: []domain.Recipient{{UserID: "u-1", Amount: amt("9")}},
	}
	if err := Validate(alloc, amt("10"), Roster{OwnerID: "u-1"}); err == nil {
		t.Fatalf("expected partial full-to-filer to fail")
	}
	if err := ValidateSelection(alloc, Roster{OwnerID: "u-1"}); err != nil {
		t.Fatalf("selection check must ignore amounts, got %v", err)
	}
}

func TestWithDefaultsUsesTeamLeader(t *testing.T) {
	team := &domain.Team{ID: "t-1", LeaderID: "lead"}
	got := WithDefaults(domain.TeamAllocation{TeamID: "t-1"}, Roster{Team: team})
	if got.(domain.TeamAllocation).ReimburseTo != "lead" {
		t.Fatalf("expected leader default, got %+v", got)
	}
}

func TestNormalizeKeepsEditedAmountsThatMatchTotal(t *testing.T) {
	alloc := domain.GroupAllocation{
		Mode: domain.GroupModeSplit,
		Recipients: []domain.Recipient{
			{UserID: "u-1", Amount: amt("70")},
			{UserID: "u-2", Amount: amt("30")},
		},
	}
	got, err := Normalize(alloc, amt("100"))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	rs := got.(domain.GroupAllocation).Recipients
	if !rs[0].Amount.Equal(amt("70")) || !rs[1].Amount.Equal(amt("30")) {
		t.Fatalf("expected edited amounts to be kept, got %+v", rs)
	}
}

func TestNormalizeRecomputesWhenTotalChanged(t *testing.T) {
	alloc := domain.GroupAllocation{
		Mode: domain.GroupModeSplit,
		Recipients: []domain.Recipient{
			{UserID: "u-1", Amount: amt("0")},
			{UserID: "u-2", Amount: amt("0")},
		},
	}
	got, err := Normalize(alloc, amt("25.01"))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	rs := got.(domain.GroupAllocation).Recipients
	if !rs[0].Amount.Equal(amt("12.51")) || !rs[1].Amount.Equal(amt("12.50")) {
		t.Fatalf("unexpected normalized split: %+v", rs)
	}
	if err := Validate(got, amt("25.01"), Roster{OwnerID: "u-1"}); err != nil {
		t.Fatalf("normalized split must validate, got %v", err)
	}
}

func TestPayoutsResolveRecipients(t *testing.T) {
	payouts, err := Payouts(domain.TeamAllocation{TeamID: "t-1", ReimburseTo: "lead"}, "u-1", amt("40"))
	if err != nil {
		t.Fatalf("Payouts() error = %v", err)
	}
	if len(payouts) != 1 || payouts[0].UserID != "lead" || !payouts[0].Amount.Equal(amt("40")) {
		t.Fatalf("unexpected payouts: %+v", payouts)
	}

	payouts, _ = Payouts(domain.PersonalAllocation{}, "u-1", amt("40"))
	if payouts[0].UserID != "u-1" {
		t.Fatalf("expected owner payout, got %+v", payouts)
	}
}
