package ports

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/xpense/internal/core/domain"
)

// ClaimRepository persists and reads claim state.
type ClaimRepository interface {
	Create(ctx context.Context, claim *domain.Claim) error
	GetByID(ctx context.Context, id string) (*domain.Claim, error)
	List(ctx context.Context, filter domain.ClaimFilter) (domain.ClaimPage, error)
	// Save writes the claim only while its stored status still equals expected and its
	// stored extraction still equals claim.Extraction. The extraction itself is never
	// written. A lost race returns domain.ErrConflict.
	Save(ctx context.Context, claim *domain.Claim, expected domain.ClaimStatus) error
	// ReplaceReceipt attaches ref to a draft, clearing the extraction and its derived
	// fields when the receipt path changes.
	ReplaceReceipt(ctx context.Context, id string, ref domain.ReceiptRef, updatedAt time.Time) error
	// SaveExtraction records an extraction unless a successful one is already stored or
	// the stored receipt path differs from claim.ReceiptRef. It reports whether the write happened.
	SaveExtraction(ctx context.Context, claim *domain.Claim) (bool, error)
	DeleteDraft(ctx context.Context, id, ownerID string) error
	Summary(ctx context.Context, ownerID string) (domain.ReportsSummary, error)
	ListForReport(ctx context.Context, ownerID string) ([]domain.Claim, error)
}

// CapLedger is the per-user, per-category, per-period running cap.
type CapLedger interface {
	// RemainingCap returns cap plus accumulated adjustments minus spend for the key.
	RemainingCap(ctx context.Context, key domain.CapKey, cap decimal.Decimal) (decimal.Decimal, error)
	// Charge serializes on the key row, hands decide the current remaining cap and applies
	// the returned charge to the key and to the following period in one transaction.
	Charge(ctx context.Context, key domain.CapKey, cap decimal.Decimal, decide func(remaining decimal.Decimal) domain.CapCharge) (decimal.Decimal, error)
}

// Directory reads teams and groups.
type Directory interface {
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	GetGroup(ctx context.Context, id string) (*domain.Group, error)
}

// DirectoryStore manages teams, groups and group invites. Mutations of missing rows
// return domain.ErrNotFound; duplicate memberships return domain.ErrConflict.
type DirectoryStore interface {
	Directory
	ListTeamsFor(ctx context.Context, userID string) ([]domain.Team, error)
	CreateTeam(ctx context.Context, team domain.Team) error
	RenameTeam(ctx context.Context, id, name string) error
	AddTeamMember(ctx context.Context, teamID, userID string) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error

	ListGroupsFor(ctx context.Context, userID string) ([]domain.Group, error)
	CreateGroup(ctx context.Context, group domain.Group) error
	RenameGroup(ctx context.Context, id, name string) error
	InviteGroupMember(ctx context.Context, groupID, userID, invitedBy string) error
	// RespondToInvite accepts or drops a pending invite.
	RespondToInvite(ctx context.Context, groupID, userID string, accept bool) error
	ListInvites(ctx context.Context, userID string) ([]domain.GroupInvite, error)
}

// PermissionStore resolves the server-side permission set of a user.
type PermissionStore interface {
	PermissionsFor(ctx context.Context, userID string) ([]string, error)
}

// ReceiptStore is the blob store behind signed receipt uploads.
type ReceiptStore interface {
	UploadTarget(ctx context.Context, claimID, filename string) (domain.UploadTarget, error)
	Put(ctx context.Context, path, token string, body io.Reader) error
	// Acknowledge verifies the token for claimID and path and describes the stored blob.
	Acknowledge(ctx context.Context, claimID, path, token string) (domain.ReceiptRef, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// ReceiptEvents publishes analysis requests for acknowledged receipts.
type ReceiptEvents interface {
	PublishReceiptAcknowledged(ctx context.Context, event domain.ReceiptAcknowledged) error
}

// ExtractionEvents delivers analysis results.
type ExtractionEvents interface {
	SubscribeExtractions(ctx context.Context, handler func(context.Context, domain.ExtractionEvent) error) error
}

// ReportWriter renders claims into a downloadable report.
type ReportWriter interface {
	WriteReport(w io.Writer, summary domain.ReportsSummary, claims []domain.Claim) error
}
