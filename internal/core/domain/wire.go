package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type draftInputAlias DraftInput

func (in DraftInput) MarshalJSON() ([]byte, error) {
	var alloc json.RawMessage
	if in.Allocation != nil {
		raw, err := MarshalAllocation(in.Allocation)
		if err != nil {
			return nil, err
		}
		alloc = raw
	}
	return json.Marshal(struct {
		draftInputAlias
		Allocation json.RawMessage `json:"allocation,omitempty"`
	}{draftInputAlias: draftInputAlias(in), Allocation: alloc})
}

// UnmarshalJSON leaves Allocation nil when the field is absent.
func (in *DraftInput) UnmarshalJSON(data []byte) error {
	var wire struct {
		draftInputAlias
		Allocation json.RawMessage `json:"allocation"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*in = DraftInput(wire.draftInputAlias)
	return decodeOptionalAllocation(wire.Allocation, &in.Allocation)
}

type draftPatchWire struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    *Category        `json:"category,omitempty"`
	ExpenseDate *string          `json:"expenseDate,omitempty"`
	Merchant    *string          `json:"merchant,omitempty"`
	Description *string          `json:"description,omitempty"`
	CapMode     *CapMode         `json:"capMode,omitempty"`
	Allocation  json.RawMessage  `json:"allocation,omitempty"`
}

func (p DraftPatch) MarshalJSON() ([]byte, error) {
	wire := draftPatchWire{
		Amount:      p.Amount,
		Category:    p.Category,
		ExpenseDate: p.ExpenseDate,
		Merchant:    p.Merchant,
		Description: p.Description,
		CapMode:     p.CapMode,
	}
	if p.Allocation != nil {
		raw, err := MarshalAllocation(p.Allocation)
		if err != nil {
			return nil, err
		}
		wire.Allocation = raw
	}
	return json.Marshal(wire)
}

func (p *DraftPatch) UnmarshalJSON(data []byte) error {
	var wire draftPatchWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = DraftPatch{
		Amount:      wire.Amount,
		Category:    wire.Category,
		ExpenseDate: wire.ExpenseDate,
		Merchant:    wire.Merchant,
		Description: wire.Description,
		CapMode:     wire.CapMode,
	}
	return decodeOptionalAllocation(wire.Allocation, &p.Allocation)
}

func decodeOptionalAllocation(raw json.RawMessage, dst *Allocation) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	alloc, err := UnmarshalAllocation(raw)
	if err != nil {
		return err
	}
	*dst = alloc
	return nil
}
