package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type AllocationKind string

const (
	AllocationPersonal AllocationKind = "personal"
	AllocationTeam     AllocationKind = "team"
	AllocationGroup    AllocationKind = "group"
)

// Allocation describes who is reimbursed for a claim. The set of implementations is closed:
// PersonalAllocation, TeamAllocation and GroupAllocation.
type Allocation interface {
	Kind() AllocationKind
	isAllocation()
}

type PersonalAllocation struct{}

func (PersonalAllocation) Kind() AllocationKind { return AllocationPersonal }
func (PersonalAllocation) isAllocation()        {}

type TeamAllocation struct {
	TeamID      string `json:"teamId"`
	ReimburseTo string `json:"reimburseTo"`
}

func (TeamAllocation) Kind() AllocationKind { return AllocationTeam }
func (TeamAllocation) isAllocation()        {}

type GroupMode string

const (
	GroupModeFullToFiler GroupMode = "full_to_filer"
	GroupModeSplit       GroupMode = "split"
)

type Recipient struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

// GroupAllocation is either the full amount to the filer or an explicit split.
// A non-empty GroupID attributes the claim to that group for reporting.
type GroupAllocation struct {
	GroupID    string      `json:"groupId,omitempty"`
	Mode       GroupMode   `json:"mode"`
	Recipients []Recipient `json:"recipients,omitempty"`
}

func (GroupAllocation) Kind() AllocationKind { return AllocationGroup }
func (GroupAllocation) isAllocation()        {}

type allocationWire struct {
	Type        AllocationKind `json:"type"`
	TeamID      string         `json:"teamId,omitempty"`
	ReimburseTo string         `json:"reimburseTo,omitempty"`
	GroupID     string         `json:"groupId,omitempty"`
	Mode        GroupMode      `json:"mode,omitempty"`
	Recipients  []Recipient    `json:"recipients,omitempty"`
}

// MarshalAllocation encodes an allocation with an explicit "type" discriminant.
// A nil allocation encodes as personal.
func MarshalAllocation(a Allocation) ([]byte, error) {
	var wire allocationWire
	switch v := a.(type) {
	case nil, PersonalAllocation:
		wire.Type = AllocationPersonal
	case TeamAllocation:
		wire = allocationWire{Type: AllocationTeam, TeamID: v.TeamID, ReimburseTo: v.ReimburseTo}
	case GroupAllocation:
		wire = allocationWire{Type: AllocationGroup, GroupID: v.GroupID, Mode: v.Mode, Recipients: v.Recipients}
	default:
		return nil, fmt.Errorf("unknown allocation %T", a)
	}
	return json.Marshal(wire)
}

// UnmarshalAllocation decodes the discriminated form; empty input decodes as personal.
func UnmarshalAllocation(data []byte) (Allocation, error) {
	if len(data) == 0 || string(data) == "null" {
		return PersonalAllocation{}, nil
	}
	var wire allocationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode allocation: %w", err)
	}
	switch wire.Type {
	case AllocationPersonal, "":
		return PersonalAllocation{}, nil
	case AllocationTeam:
		return TeamAllocation{TeamID: wire.TeamID, ReimburseTo: wire.ReimburseTo}, nil
	case AllocationGroup:
		mode := wire.Mode
		if mode == "" {
			mode = GroupModeFullToFiler
		}
		return GroupAllocation{GroupID: wire.GroupID, Mode: mode, Recipients: wire.Recipients}, nil
	default:
		return nil, fmt.Errorf("unknown allocation type %q", wire.Type)
	}
}

func CloneAllocation(a Allocation) Allocation {
	if g, ok := a.(GroupAllocation); ok {
		g.Recipients = append([]Recipient(nil), g.Recipients...)
		return g
	}
	return a
}
