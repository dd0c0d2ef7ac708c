package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ClaimStatus string

const (
	StatusDraft     ClaimStatus = "draft"
	StatusPending   ClaimStatus = "pending"
	StatusApproved  ClaimStatus = "approved"
	StatusRejected  ClaimStatus = "rejected"
	StatusDisbursed ClaimStatus = "disbursed"
)

func ParseStatus(raw string) (ClaimStatus, bool) {
	switch s := ClaimStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusDisbursed:
		return s, true
	default:
		return "", false
	}
}

type Category string

const (
	CategoryMeals      Category = "Meals"
	CategoryTravel     Category = "Travel"
	CategorySupplies   Category = "Supplies"
	CategorySoftware   Category = "Software"
	CategoryAIPurchase Category = "AIPurchase"
	CategoryOther      Category = "Other"
)

var AllCategories = []Category{
	CategoryMeals,
	CategoryTravel,
	CategorySupplies,
	CategorySoftware,
	CategoryAIPurchase,
	CategoryOther,
}

// ParseCategory accepts the canonical names case-insensitively, ignoring spaces and underscores.
func ParseCategory(raw string) (Category, bool) {
	key := categoryKey(raw)
	for _, c := range AllCategories {
		if categoryKey(string(c)) == key {
			return c, true
		}
	}
	return "", false
}

func categoryKey(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(raw)
}

type CapMode string

const (
	CapModeCapOnly             CapMode = "cap_only"
	CapModeFullDeductNextMonth CapMode = "full_deduct_next_month"
)

func ParseCapMode(raw string) (CapMode, bool) {
	switch m := CapMode(strings.TrimSpace(raw)); m {
	case "":
		return CapModeCapOnly, true
	case CapModeCapOnly, CapModeFullDeductNextMonth:
		return m, true
	default:
		return "", false
	}
}

type SupervisionLevel string

const (
	SupervisionNone SupervisionLevel = "none"
	SupervisionLow  SupervisionLevel = "low"
	SupervisionHigh SupervisionLevel = "high"
)

// DateLayout is the wire and storage layout of expense dates.
const DateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD date; the empty string is allowed.
func ParseDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("expense date %q must use YYYY-MM-DD", raw)
	}
	return t.Format(DateLayout), nil
}

type ReceiptRef struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	Pages       int    `json:"pages,omitempty"`
}

type PolicyFlag struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Claim struct {
	ID                  string           `json:"id"`
	OwnerID             string           `json:"ownerId"`
	Amount              decimal.Decimal  `json:"amount"`
	Category            Category         `json:"category"`
	ExpenseDate         string           `json:"expenseDate,omitempty"`
	Merchant            string           `json:"merchant"`
	Description         string           `json:"description"`
	Status              ClaimStatus      `json:"status"`
	StatusReason        string           `json:"statusReason,omitempty"`
	ReceiptRef          *ReceiptRef      `json:"receiptRef,omitempty"`
	Extraction          *Extraction      `json:"extraction,omitempty"`
	Allocation          Allocation       `json:"-"`
	CapMode             CapMode          `json:"capMode"`
	SupervisionLevel    SupervisionLevel `json:"supervisionLevel"`
	LegalReviewRequired bool             `json:"legalReviewRequired"`
	ReimbursableAmount  *decimal.Decimal `json:"reimbursableAmount,omitempty"`
	PolicyFlags         []PolicyFlag     `json:"policyFlags,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

type claimAlias Claim

func (c Claim) MarshalJSON() ([]byte, error) {
	alloc, err := MarshalAllocation(c.Allocation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		claimAlias
		Allocation json.RawMessage `json:"allocation"`
	}{claimAlias: claimAlias(c), Allocation: alloc})
}

func (c *Claim) UnmarshalJSON(data []byte) error {
	var wire struct {
		claimAlias
		Allocation json.RawMessage `json:"allocation"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	alloc, err := UnmarshalAllocation(wire.Allocation)
	if err != nil {
		return err
	}
	*c = Claim(wire.claimAlias)
	c.Allocation = alloc
	return nil
}

// Period returns the YYYY-MM cap period of the claim, using now when the expense date is unset.
func (c *Claim) Period(now time.Time) string {
	if t, err := time.Parse(DateLayout, c.ExpenseDate); err == nil {
		return t.Format(PeriodLayout)
	}
	return now.UTC().Format(PeriodLayout)
}

// Clone returns a deep copy so callers can stage changes without touching the original.
func (c *Claim) Clone() *Claim {
	out := *c
	if c.ReceiptRef != nil {
		ref := *c.ReceiptRef
		out.ReceiptRef = &ref
	}
	if c.Extraction != nil {
		out.Extraction = c.Extraction.Clone()
	}
	if c.ReimbursableAmount != nil {
		v := *c.ReimbursableAmount
		out.ReimbursableAmount = &v
	}
	out.PolicyFlags = append([]PolicyFlag(nil), c.PolicyFlags...)
	out.Allocation = CloneAllocation(c.Allocation)
	return &out
}

// DraftInput carries the fields of a new draft; amount may be zero for receipt-first drafts.
type DraftInput struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    Category        `json:"category"`
	ExpenseDate string          `json:"expenseDate,omitempty"`
	Merchant    string          `json:"merchant"`
	Description string          `json:"description"`
	Allocation  Allocation      `json:"-"`
	CapMode     CapMode         `json:"capMode,omitempty"`
}

// DraftPatch updates a draft; nil fields stay untouched.
type DraftPatch struct {
	Amount      *decimal.Decimal
	Category    *Category
	ExpenseDate *string
	Merchant    *string
	Description *string
	Allocation  Allocation
	CapMode     *CapMode
}

func (p DraftPatch) IsEmpty() bool {
	return p.Amount == nil && p.Category == nil && p.ExpenseDate == nil && p.Merchant == nil &&
		p.Description == nil && p.Allocation == nil && p.CapMode == nil
}

type ClaimFilter struct {
	OwnerID  string
	Status   ClaimStatus
	Page     int
	PageSize int
}

type ClaimPage struct {
	Items    []Claim `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

type ReportsSummary struct {
	StatusCounts          map[string]int  `json:"statusCounts"`
	CategoryCounts        map[string]int  `json:"categoryCounts"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	TotalClaims           int             `json:"totalClaims"`
	TotalReimbursedAmount decimal.Decimal `json:"totalReimbursedAmount"`
}

var categorySynonyms = map[string]Category{
	"food":         CategoryMeals,
	"restaurant":   CategoryMeals,
	"dining":       CategoryMeals,
	"saas":         CategorySoftware,
	"subscription": CategorySoftware,
	"license":      CategorySoftware,
	"ai":           CategoryAIPurchase,
	"llm":          CategoryAIPurchase,
	"uber":         CategoryTravel,
	"lyft":         CategoryTravel,
	"airline":      CategoryTravel,
	"flight":       CategoryTravel,
	"hotel":        CategoryTravel,
	"taxi":         CategoryTravel,
	"office":       CategorySupplies,
	"stationery":   CategorySupplies,
}

// CanonicalCategory maps free-form category text from receipt analysis onto the closed set.
// Unknown input maps to Other with ok=false.
func CanonicalCategory(raw string) (Category, bool) {
	if c, ok := ParseCategory(raw); ok {
		return c, true
	}
	if c, ok := categorySynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return c, true
	}
	return CategoryOther, false
}
