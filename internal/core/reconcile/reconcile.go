// Package reconcile compares a claim against its receipt extraction and derives
// the supervision level and legal-review flag.
package reconcile

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

type Field string

const (
	FieldAmount   Field = "amount"
	FieldMerchant Field = "merchant"
	FieldCategory Field = "category"
	FieldDate     Field = "date"
)

// Options are the comparison tolerances and the restricted-content keywords.
type Options struct {
	AmountRelativeTolerance decimal.Decimal
	AmountAbsoluteTolerance decimal.Decimal
	MerchantSimilarity      float64
	RestrictedKeywords      []string
}

func DefaultOptions() Options {
	return Options{
		AmountRelativeTolerance: decimal.RequireFromString("0.05"),
		AmountAbsoluteTolerance: decimal.NewFromInt(1),
		MerchantSimilarity:      0.6,
		RestrictedKeywords: []string{
			"alcohol", "beer", "wine", "liquor", "spirits", "vodka", "whisky", "whiskey",
			"tobacco", "cigarette", "gambling", "casino",
		},
	}
}

type Discrepancy struct {
	Field     Field  `json:"field"`
	Submitted string `json:"submitted"`
	Extracted string `json:"extracted"`
}

type Result struct {
	Level               domain.SupervisionLevel `json:"supervisionLevel"`
	LegalReviewRequired bool                    `json:"legalReviewRequired"`
	Discrepancies       []Discrepancy           `json:"discrepancies,omitempty"`
	LegalSignals        []string                `json:"legalSignals,omitempty"`
	ExtractionError     *domain.ExtractionError `json:"extractionError,omitempty"`
}

// Reconcile classifies the claim against its extraction. A claim without an extraction,
// or with a failed one, is level none; a failed extraction is exposed on the result.
func Reconcile(opts Options, claim *domain.Claim) Result {
	ext := claim.Extraction
	if ext == nil {
		return Result{Level: domain.SupervisionNone}
	}
	if ext.Failed() {
		e := *ext.Error
		return Result{Level: domain.SupervisionNone, ExtractionError: &e}
	}

	var res Result
	if d, ok := compareAmount(opts, claim.Amount, ext.Amount); !ok {
		res.Discrepancies = append(res.Discrepancies, d)
	}
	if d, ok := compareMerchant(opts, claim.Merchant, ext.Vendor); !ok {
		res.Discrepancies = append(res.Discrepancies, d)
	}
	if d, ok := compareCategory(claim.Category, ext.Category); !ok {
		res.Discrepancies = append(res.Discrepancies, d)
	}
	if d, ok := compareDate(claim.ExpenseDate, ext.Date); !ok {
		res.Discrepancies = append(res.Discrepancies, d)
	}

	res.Level = classify(res.Discrepancies)
	res.LegalSignals = restrictedSignals(opts.RestrictedKeywords, ext)
	res.LegalReviewRequired = len(res.LegalSignals) > 0
	return res
}

// Apply writes the derived fields of res onto claim.
func Apply(claim *domain.Claim, res Result) {
	claim.SupervisionLevel = res.Level
	claim.LegalReviewRequired = res.LegalReviewRequired
}

func classify(ds []Discrepancy) domain.SupervisionLevel {
	others := 0
	for _, d := range ds {
		if d.Field == FieldAmount {
			return domain.SupervisionHigh
		}
		others++
	}
	switch {
	case others > 1:
		return domain.SupervisionHigh
	case others == 1:
		return domain.SupervisionLow
	default:
		return domain.SupervisionNone
	}
}

// compareAmount flags a difference only when it exceeds both the absolute and the
// relative tolerance. The relative base is the submitted amount, or the extracted one
// when nothing was submitted.
func compareAmount(opts Options, submitted decimal.Decimal, extracted *decimal.Decimal) (Discrepancy, bool) {
	if extracted == nil {
		return Discrepancy{}, true
	}
	diff := submitted.Sub(*extracted).Abs()
	base := submitted
	if base.IsZero() {
		base = *extracted
	}
	overAbsolute := diff.GreaterThan(opts.AmountAbsoluteTolerance)
	overRelative := diff.GreaterThan(base.Abs().Mul(opts.AmountRelativeTolerance))
	if overAbsolute && overRelative {
		return Discrepancy{Field: FieldAmount, Submitted: submitted.StringFixed(2), Extracted: extracted.StringFixed(2)}, false
	}
	return Discrepancy{}, true
}

func compareMerchant(opts Options, submitted, extracted string) (Discrepancy, bool) {
	a, b := normalizeMerchant(submitted), normalizeMerchant(extracted)
	if a == "" || b == "" || a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return Discrepancy{}, true
	}
	if levenshtein.Similarity(a, b, nil) >= opts.MerchantSimilarity {
		return Discrepancy{}, true
	}
	return Discrepancy{Field: FieldMerchant, Submitted: submitted, Extracted: extracted}, false
}

var merchantSuffixes = map[string]struct{}{
	"inc": {}, "llc": {}, "ltd": {}, "corp": {}, "co": {}, "gmbh": {}, "the": {},
}

func normalizeMerchant(raw string) string {
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if _, skip := merchantSuffixes[w]; !skip {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

func compareCategory(submitted domain.Category, extracted string) (Discrepancy, bool) {
	if strings.TrimSpace(extracted) == "" {
		return Discrepancy{}, true
	}
	canonical, _ := domain.CanonicalCategory(extracted)
	if canonical == submitted {
		return Discrepancy{}, true
	}
	return Discrepancy{Field: FieldCategory, Submitted: string(submitted), Extracted: string(canonical)}, false
}

func compareDate(submitted, extracted string) (Discrepancy, bool) {
	if submitted == "" || extracted == "" {
		return Discrepancy{}, true
	}
	e, err := domain.ParseDate(extracted)
	if err != nil || e == submitted {
		return Discrepancy{}, true
	}
	return Discrepancy{Field: FieldDate, Submitted: submitted, Extracted: e}, false
}

func restrictedSignals(keywords []string, ext *domain.Extraction) []string {
	parts := []string{ext.Vendor, ext.Summary}
	parts = append(parts, ext.LineItems...)
	parts = append(parts, ext.Flags...)
	parts = append(parts, ext.FlagMessages...)
	text := " " + normalizeMerchant(strings.Join(parts, " ")) + " "

	var hits []string
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, " "+k) {
			hits = append(hits, k)
		}
	}
	return hits
}
