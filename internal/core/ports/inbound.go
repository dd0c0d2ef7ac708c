package ports

import (
	"context"
	"io"

	"github.com/kirillkom/xpense/internal/core/domain"
)

// ClaimService is the inbound contract for claim reads, draft edits and status changes.
type ClaimService interface {
	CreateDraft(ctx context.Context, actor domain.Actor, input domain.DraftInput) (*domain.Claim, error)
	GetClaim(ctx context.Context, actor domain.Actor, id string) (*domain.Claim, error)
	ListClaims(ctx context.Context, actor domain.Actor, filter domain.ClaimFilter) (domain.ClaimPage, error)
	UpdateDraft(ctx context.Context, actor domain.Actor, id string, patch domain.DraftPatch) (*domain.Claim, error)
	DeleteDraft(ctx context.Context, actor domain.Actor, id string) error
	Transition(ctx context.Context, actor domain.Actor, id string, to domain.ClaimStatus, reason string) (*domain.Claim, error)
}

// ReceiptUploads is the inbound contract for the signed receipt upload flow.
type ReceiptUploads interface {
	RequestUploadTarget(ctx context.Context, actor domain.Actor, id, filename string) (domain.UploadTarget, error)
	StoreReceipt(ctx context.Context, path, token string, body io.Reader) error
	AcknowledgeReceipt(ctx context.Context, actor domain.Actor, id, path, token string) (*domain.Claim, error)
	// OpenReceipt streams the receipt attached to a claim the actor may read.
	OpenReceipt(ctx context.Context, actor domain.Actor, id string) (io.ReadCloser, domain.ReceiptRef, error)
}

// ReportService is the read model for reports and cap previews.
type ReportService interface {
	Summary(ctx context.Context, actor domain.Actor) (domain.ReportsSummary, error)
	ExportReport(ctx context.Context, actor domain.Actor, w io.Writer) error
	PreviewCap(ctx context.Context, actor domain.Actor, req domain.CapRequest) (domain.CapDecision, error)
}

// ExtractionRecorder is the inbound contract for asynchronous analysis results.
// A nil claim with a nil error means the event was ignored.
type ExtractionRecorder interface {
	RecordExtraction(ctx context.Context, event domain.ExtractionEvent) (*domain.Claim, error)
}

// DirectoryService manages the teams and groups claims are allocated to.
type DirectoryService interface {
	ListTeams(ctx context.Context, actor domain.Actor) ([]domain.Team, error)
	GetTeam(ctx context.Context, actor domain.Actor, id string) (*domain.Team, error)
	CreateTeam(ctx context.Context, actor domain.Actor, name string) (*domain.Team, error)
	RenameTeam(ctx context.Context, actor domain.Actor, id, name string) (*domain.Team, error)
	AddTeamMember(ctx context.Context, actor domain.Actor, id, userID string) (*domain.Team, error)
	RemoveTeamMember(ctx context.Context, actor domain.Actor, id, userID string) (*domain.Team, error)

	ListGroups(ctx context.Context, actor domain.Actor) ([]domain.Group, error)
	GetGroup(ctx context.Context, actor domain.Actor, id string) (*domain.Group, error)
	CreateGroup(ctx context.Context, actor domain.Actor, name string) (*domain.Group, error)
	RenameGroup(ctx context.Context, actor domain.Actor, id, name string) (*domain.Group, error)
	InviteGroupMember(ctx context.Context, actor domain.Actor, id, userID string) (*domain.Group, error)
	AcceptInvite(ctx context.Context, actor domain.Actor, id string) (*domain.Group, error)
	RejectInvite(ctx context.Context, actor domain.Actor, id string) error
	ListInvites(ctx context.Context, actor domain.Actor) ([]domain.GroupInvite, error)
}

// ActorResolver turns a verified identity into an actor with its permission set.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID string) (domain.Actor, error)
}
