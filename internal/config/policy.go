package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/xpense/internal/core/capping"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/reconcile"
)

// Policy groups the reimbursement caps and the reconciliation tolerances.
type Policy struct {
	Caps      capping.Policy
	Reconcile reconcile.Options
}

func DefaultPolicy() Policy {
	return Policy{
		Caps:      capping.DefaultPolicy(),
		Reconcile: reconcile.DefaultOptions(),
	}
}

type policyFile struct {
	Caps struct {
		MealsDaily        *string  `yaml:"mealsDaily"`
		Monthly           *string  `yaml:"monthly"`
		MonthlyCategories []string `yaml:"monthlyCategories"`
	} `yaml:"caps"`
	Reconciliation struct {
		AmountRelativeTolerance *string  `yaml:"amountRelativeTolerance"`
		AmountAbsoluteTolerance *string  `yaml:"amountAbsoluteTolerance"`
		MerchantSimilarity      *float64 `yaml:"merchantSimilarity"`
		RestrictedKeywords      []string `yaml:"restrictedKeywords"`
	} `yaml:"reconciliation"`
}

// LoadPolicy returns DefaultPolicy overridden by the keys present in the YAML file at path.
// An empty path yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	p := DefaultPolicy()
	var err error
	if p.Caps.MealsDailyCap, err = overrideAmount(p.Caps.MealsDailyCap, file.Caps.MealsDaily, "caps.mealsDaily"); err != nil {
		return Policy{}, err
	}
	if p.Caps.MonthlyCap, err = overrideAmount(p.Caps.MonthlyCap, file.Caps.Monthly, "caps.monthly"); err != nil {
		return Policy{}, err
	}
	if len(file.Caps.MonthlyCategories) > 0 {
		cats := make([]domain.Category, 0, len(file.Caps.MonthlyCategories))
		for _, raw := range file.Caps.MonthlyCategories {
			c, ok := domain.ParseCategory(raw)
			if !ok {
				return Policy{}, fmt.Errorf("caps.monthlyCategories: unknown category %q", raw)
			}
			cats = append(cats, c)
		}
		p.Caps.MonthlyCategories = cats
	}

	rec := file.Reconciliation
	if p.Reconcile.AmountRelativeTolerance, err = overrideAmount(p.Reconcile.AmountRelativeTolerance, rec.AmountRelativeTolerance, "reconciliation.amountRelativeTolerance"); err != nil {
		return Policy{}, err
	}
	if p.Reconcile.AmountAbsoluteTolerance, err = overrideAmount(p.Reconcile.AmountAbsoluteTolerance, rec.AmountAbsoluteTolerance, "reconciliation.amountAbsoluteTolerance"); err != nil {
		return Policy{}, err
	}
	if rec.MerchantSimilarity != nil {
		if *rec.MerchantSimilarity < 0 || *rec.MerchantSimilarity > 1 {
			return Policy{}, fmt.Errorf("reconciliation.merchantSimilarity must be within [0,1]")
		}
		p.Reconcile.MerchantSimilarity = *rec.MerchantSimilarity
	}
	if len(rec.RestrictedKeywords) > 0 {
		p.Reconcile.RestrictedKeywords = rec.RestrictedKeywords
	}
	return p, nil
}

func overrideAmount(current decimal.Decimal, raw *string, key string) (decimal.Decimal, error) {
	if raw == nil {
		return current, nil
	}
	v, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	if v.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}
