package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const PeriodLayout = "2006-01"

// CapKey identifies one running-cap ledger row.
type CapKey struct {
	UserID   string
	Category Category
	Period   string
}

func (k CapKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.Category, k.Period)
}

// NextPeriod returns the YYYY-MM period following period.
func NextPeriod(period string) (string, error) {
	t, err := time.Parse(PeriodLayout, period)
	if err != nil {
		return "", fmt.Errorf("period %q must use YYYY-MM", period)
	}
	return t.AddDate(0, 1, 0).Format(PeriodLayout), nil
}

// CapCharge is what a ledger applies atomically for one claim: Spend is added to the
// current period, NextPeriodDelta (zero or negative) to the next period's opening balance.
type CapCharge struct {
	Spend           decimal.Decimal
	NextPeriodDelta decimal.Decimal
}

// CapRequest is the input of a cap evaluation.
type CapRequest struct {
	OwnerID  string          `json:"-"`
	Category Category        `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Mode     CapMode         `json:"capMode"`
	Period   string          `json:"period"`
}

// CapDecision is the outcome of a cap evaluation.
type CapDecision struct {
	Category            Category         `json:"category"`
	Mode                CapMode          `json:"capMode"`
	Amount              decimal.Decimal  `json:"amount"`
	ReimbursableAmount  decimal.Decimal  `json:"reimbursableAmount"`
	Cap                 *decimal.Decimal `json:"cap,omitempty"`
	RemainingBefore     *decimal.Decimal `json:"remainingBefore,omitempty"`
	NextPeriodDeduction decimal.Decimal  `json:"nextPeriodDeduction"`
	Flags               []PolicyFlag     `json:"flags,omitempty"`
}
