package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Extraction is the structured result of the external receipt analysis.
// A non-nil Error marks a failed analysis; it is terminal data, not an engine error.
type Extraction struct {
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Vendor       string           `json:"vendor,omitempty"`
	Category     string           `json:"category,omitempty"`
	Date         string           `json:"date,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	LineItems    []string         `json:"lineItems,omitempty"`
	Flags        []string         `json:"flags,omitempty"`
	FlagMessages []string         `json:"flagMessages,omitempty"`
	Confidence   float64          `json:"confidence,omitempty"`
	Error        *ExtractionError `json:"error,omitempty"`
	ReceivedAt   time.Time        `json:"receivedAt"`
}

type ExtractionError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *Extraction) Failed() bool {
	return e != nil && e.Error != nil
}

// Succeeded reports whether the claim holds a usable extraction.
func (e *Extraction) Succeeded() bool {
	return e != nil && e.Error == nil
}

func (e *Extraction) Clone() *Extraction {
	if e == nil {
		return nil
	}
	out := *e
	if e.Amount != nil {
		v := *e.Amount
		out.Amount = &v
	}
	if e.Error != nil {
		ee := *e.Error
		out.Error = &ee
	}
	out.LineItems = append([]string(nil), e.LineItems...)
	out.Flags = append([]string(nil), e.Flags...)
	out.FlagMessages = append([]string(nil), e.FlagMessages...)
	return &out
}

// ExtractionEvent is the message the analysis service publishes for a claim.
// ReceiptPath echoes the path of the ReceiptAcknowledged it answers.
type ExtractionEvent struct {
	ClaimID     string     `json:"claimId"`
	ReceiptPath string     `json:"receiptPath"`
	Extraction  Extraction `json:"extraction"`
}

// ReceiptAcknowledged asks the analysis service to process a stored receipt.
type ReceiptAcknowledged struct {
	ClaimID     string    `json:"claimId"`
	OwnerID     string    `json:"ownerId"`
	ReceiptPath string    `json:"receiptPath"`
	ContentType string    `json:"contentType,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}
