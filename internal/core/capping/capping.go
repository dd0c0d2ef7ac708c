// Package capping applies category spending caps to claim amounts.
package capping

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/ports"
)

const (
	FlagMealsDailyCapExceeded        = "meals_daily_cap_exceeded"
	FlagMonthlyCapExceeded           = "monthly_cap_exceeded"
	FlagMonthlyCapDeductedNextPeriod = "monthly_cap_deducted_next_period"
)

// Policy holds the cap constants.
type Policy struct {
	MealsDailyCap     decimal.Decimal
	MonthlyCap        decimal.Decimal
	MonthlyCategories []domain.Category
}

func DefaultPolicy() Policy {
	return Policy{
		MealsDailyCap:     decimal.NewFromInt(200),
		MonthlyCap:        decimal.NewFromInt(20),
		MonthlyCategories: []domain.Category{domain.CategorySoftware, domain.CategoryAIPurchase},
	}
}

func (p Policy) monthly(c domain.Category) bool {
	for _, m := range p.MonthlyCategories {
		if m == c {
			return true
		}
	}
	return false
}

// Evaluator computes reimbursable amounts. Monthly caps consult the ledger and fail closed
// when it is unavailable.
type Evaluator struct {
	policy Policy
	ledger ports.CapLedger
	now    func() time.Time
}

func NewEvaluator(policy Policy, ledger ports.CapLedger) *Evaluator {
	return &Evaluator{policy: policy, ledger: ledger, now: time.Now}
}

// Preview evaluates without writing to the ledger.
func (e *Evaluator) Preview(ctx context.Context, req domain.CapRequest) (domain.CapDecision, error) {
	req, err := e.normalize(req)
	if err != nil {
		return domain.CapDecision{}, err
	}
	if !e.policy.monthly(req.Category) {
		return Decide(e.policy, req, decimal.Zero), nil
	}

	remaining, err := e.ledger.RemainingCap(ctx, e.key(req), e.policy.MonthlyCap)
	if err != nil {
		return domain.CapDecision{}, ledgerError("preview cap", err)
	}
	return Decide(e.policy, req, remaining), nil
}

// Commit evaluates and charges the ledger atomically for monthly-capped categories.
func (e *Evaluator) Commit(ctx context.Context, req domain.CapRequest) (domain.CapDecision, error) {
	req, err := e.normalize(req)
	if err != nil {
		return domain.CapDecision{}, err
	}
	if !e.policy.monthly(req.Category) {
		return Decide(e.policy, req, decimal.Zero), nil
	}

	var decision domain.CapDecision
	_, err = e.ledger.Charge(ctx, e.key(req), e.policy.MonthlyCap, func(remaining decimal.Decimal) domain.CapCharge {
		decision = Decide(e.policy, req, remaining)
		return chargeFor(decision)
	})
	if err != nil {
		return domain.CapDecision{}, ledgerError("commit cap", err)
	}
	return decision, nil
}

func (e *Evaluator) normalize(req domain.CapRequest) (domain.CapRequest, error) {
	if req.Amount.IsNegative() {
		return req, domain.Invalid("evaluate cap", "amount must not be negative")
	}
	mode, ok := domain.ParseCapMode(string(req.Mode))
	if !ok {
		return req, domain.Invalid("evaluate cap", fmt.Sprintf("unknown cap mode %q", req.Mode))
	}
	req.Mode = mode
	if req.Period == "" {
		req.Period = e.now().UTC().Format(domain.PeriodLayout)
	}
	return req, nil
}

func (e *Evaluator) key(req domain.CapRequest) domain.CapKey {
	return domain.CapKey{UserID: req.OwnerID, Category: req.Category, Period: req.Period}
}

func ledgerError(operation string, err error) error {
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrInvalidInput) {
		return err
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}

// Decide is the pure cap rule. remaining is only read for monthly-capped categories.
func Decide(policy Policy, req domain.CapRequest, remaining decimal.Decimal) domain.CapDecision {
	d := domain.CapDecision{
		Category:            req.Category,
		Mode:                req.Mode,
		Amount:              req.Amount,
		ReimbursableAmount:  req.Amount,
		NextPeriodDeduction: decimal.Zero,
	}

	switch {
	case req.Category == domain.CategoryMeals:
		limit := policy.MealsDailyCap
		d.Cap = &limit
		if req.Amount.GreaterThan(limit) {
			d.ReimbursableAmount = limit
			d.Flags = append(d.Flags, domain.PolicyFlag{
				Code:    FlagMealsDailyCapExceeded,
				Message: fmt.Sprintf("meals are capped at %s per day; %s is not reimbursed", limit.StringFixed(2), req.Amount.Sub(limit).StringFixed(2)),
			})
		}
	case policy.monthly(req.Category):
		limit := policy.MonthlyCap
		before := remaining
		d.Cap = &limit
		d.RemainingBefore = &before

		available := decimal.Max(remaining, decimal.Zero)
		if !req.Amount.GreaterThan(available) {
			break
		}
		excess := req.Amount.Sub(available)
		if req.Mode == domain.CapModeFullDeductNextMonth {
			d.NextPeriodDeduction = excess
			d.Flags = append(d.Flags, domain.PolicyFlag{
				Code:    FlagMonthlyCapDeductedNextPeriod,
				Message: fmt.Sprintf("%s over the monthly cap is deducted from next month's cap", excess.StringFixed(2)),
			})
			break
		}
		d.ReimbursableAmount = available
		d.Flags = append(d.Flags, domain.PolicyFlag{
			Code:    FlagMonthlyCapExceeded,
			Message: fmt.Sprintf("monthly cap remaining is %s; %s is not reimbursed", available.StringFixed(2), excess.StringFixed(2)),
		})
	}
	return d
}

func chargeFor(d domain.CapDecision) domain.CapCharge {
	spend := d.ReimbursableAmount.Sub(d.NextPeriodDeduction)
	return domain.CapCharge{Spend: spend, NextPeriodDelta: d.NextPeriodDeduction.Neg()}
}
