package domain

import "time"

const (
	PermClaimsApprove  = "xpense:claims:approve"
	PermClaimsDisburse = "xpense:claims:disburse"
	PermClaimsList     = "xpense:claims:list"
	PermReportsList    = "xpense:reports:list"
)

// Actor is the caller of an engine operation: a verified identity plus the
// permission set resolved server-side for it.
type Actor struct {
	UserID      string
	Permissions map[string]struct{}
}

func NewActor(userID string, permissions ...string) Actor {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return Actor{UserID: userID, Permissions: set}
}

func (a Actor) Has(permission string) bool {
	_, ok := a.Permissions[permission]
	return ok
}

func (a Actor) PermissionList() []string {
	out := make([]string, 0, len(a.Permissions))
	for p := range a.Permissions {
		out = append(out, p)
	}
	return out
}

// SeesAllClaims reports whether listing is organisation-wide rather than owner-scoped.
func (a Actor) SeesAllClaims() bool {
	return a.Has(PermClaimsList) || a.Has(PermClaimsApprove) || a.Has(PermClaimsDisburse)
}

type Team struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	LeaderID string   `json:"leaderId"`
	Members  []string `json:"members"`
}

func (t Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type MemberStatus string

const (
	MemberPending  MemberStatus = "pending"
	MemberAccepted MemberStatus = "accepted"
)

type GroupMember struct {
	UserID string       `json:"userId"`
	Status MemberStatus `json:"status"`
}

type Group struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedBy string        `json:"createdBy"`
	Members   []GroupMember `json:"members"`
}

// AcceptedMembers returns the user ids of members that accepted their invite.
func (g Group) AcceptedMembers() []string {
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Status == MemberAccepted {
			out = append(out, m.UserID)
		}
	}
	return out
}

// GroupInvite is a pending group membership addressed to one user.
type GroupInvite struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	UserID    string `json:"userId"`
	InvitedBy string `json:"invitedBy"`
}

// UploadTarget is where a receipt is uploaded and how the upload is authorised.
type UploadTarget struct {
	URL       string    `json:"uploadUrl"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
