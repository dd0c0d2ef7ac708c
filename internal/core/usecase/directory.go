package usecase

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/ports"
)

const maxDirectoryNameLen = 100

// DirectoryUseCase manages teams and groups. A team is managed by its leader, a group
// by its creator. Accepted group members may invite others; invitees answer for themselves.
type DirectoryUseCase struct {
	store ports.DirectoryStore
}

func NewDirectoryUseCase(store ports.DirectoryStore) *DirectoryUseCase {
	return &DirectoryUseCase{store: store}
}

func (uc *DirectoryUseCase) ListTeams(ctx context.Context, actor domain.Actor) ([]domain.Team, error) {
	if err := requireActor("list teams", actor); err != nil {
		return nil, err
	}
	return uc.store.ListTeamsFor(ctx, actor.UserID)
}

func (uc *DirectoryUseCase) GetTeam(ctx context.Context, actor domain.Actor, id string) (*domain.Team, error) {
	const op = "get team"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	return uc.team(ctx, op, id)
}

// CreateTeam makes the caller leader and first member.
func (uc *DirectoryUseCase) CreateTeam(ctx context.Context, actor domain.Actor, name string) (*domain.Team, error) {
	const op = "create team"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	name, err := directoryName(op, name)
	if err != nil {
		return nil, err
	}
	team := domain.Team{ID: uuid.NewString(), Name: name, LeaderID: actor.UserID, Members: []string{actor.UserID}}
	if err := uc.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (uc *DirectoryUseCase) RenameTeam(ctx context.Context, actor domain.Actor, id, name string) (*domain.Team, error) {
	const op = "rename team"
	name, err := directoryName(op, name)
	if err != nil {
		return nil, err
	}
	if _, err := uc.ledTeam(ctx, op, actor, id); err != nil {
		return nil, err
	}
	if err := uc.store.RenameTeam(ctx, id, name); err != nil {
		return nil, err
	}
	return uc.team(ctx, op, id)
}

func (uc *DirectoryUseCase) AddTeamMember(ctx context.Context, actor domain.Actor, id, userID string) (*domain.Team, error) {
	const op = "add team member"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid(op, "user id is required")
	}
	if _, err := uc.ledTeam(ctx, op, actor, id); err != nil {
		return nil, err
	}
	if err := uc.store.AddTeamMember(ctx, id, userID); err != nil {
		return nil, err
	}
	return uc.team(ctx, op, id)
}

// RemoveTeamMember never removes the leader, who stays the default reimbursement recipient.
func (uc *DirectoryUseCase) RemoveTeamMember(ctx context.Context, actor domain.Actor, id, userID string) (*domain.Team, error) {
	const op = "remove team member"
	team, err := uc.ledTeam(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if userID == team.LeaderID {
		return nil, domain.Invalid(op, "the team leader cannot be removed")
	}
	if err := uc.store.RemoveTeamMember(ctx, id, userID); err != nil {
		return nil, err
	}
	return uc.team(ctx, op, id)
}

func (uc *DirectoryUseCase) ListGroups(ctx context.Context, actor domain.Actor) ([]domain.Group, error) {
	if err := requireActor("list groups", actor); err != nil {
		return nil, err
	}
	return uc.store.ListGroupsFor(ctx, actor.UserID)
}

func (uc *DirectoryUseCase) GetGroup(ctx context.Context, actor domain.Actor, id string) (*domain.Group, error) {
	const op = "get group"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	return uc.group(ctx, op, id)
}

// CreateGroup makes the caller creator and first accepted member.
func (uc *DirectoryUseCase) CreateGroup(ctx context.Context, actor domain.Actor, name string) (*domain.Group, error) {
	const op = "create group"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	name, err := directoryName(op, name)
	if err != nil {
		return nil, err
	}
	group := domain.Group{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: actor.UserID,
		Members:   []domain.GroupMember{{UserID: actor.UserID, Status: domain.MemberAccepted}},
	}
	if err := uc.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (uc *DirectoryUseCase) RenameGroup(ctx context.Context, actor domain.Actor, id, name string) (*domain.Group, error) {
	const op = "rename group"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	name, err := directoryName(op, name)
	if err != nil {
		return nil, err
	}
	group, err := uc.group(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if group.CreatedBy != actor.UserID {
		return nil, domain.Denied(op, "only the group creator may rename it")
	}
	if err := uc.store.RenameGroup(ctx, id, name); err != nil {
		return nil, err
	}
	return uc.group(ctx, op, id)
}

func (uc *DirectoryUseCase) InviteGroupMember(ctx context.Context, actor domain.Actor, id, userID string) (*domain.Group, error) {
	const op = "invite group member"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid(op, "user id is required")
	}
	group, err := uc.group(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !isAcceptedMember(group, actor.UserID) {
		return nil, domain.Denied(op, "only accepted members may invite")
	}
	if err := uc.store.InviteGroupMember(ctx, id, userID, actor.UserID); err != nil {
		return nil, err
	}
	return uc.group(ctx, op, id)
}

func (uc *DirectoryUseCase) AcceptInvite(ctx context.Context, actor domain.Actor, id string) (*domain.Group, error) {
	const op = "accept invite"
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	if err := uc.store.RespondToInvite(ctx, id, actor.UserID, true); err != nil {
		return nil, err
	}
	return uc.group(ctx, op, id)
}

func (uc *DirectoryUseCase) RejectInvite(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireActor("reject invite", actor); err != nil {
		return err
	}
	return uc.store.RespondToInvite(ctx, id, actor.UserID, false)
}

func (uc *DirectoryUseCase) ListInvites(ctx context.Context, actor domain.Actor) ([]domain.GroupInvite, error) {
	if err := requireActor("list invites", actor); err != nil {
		return nil, err
	}
	return uc.store.ListInvites(ctx, actor.UserID)
}

func (uc *DirectoryUseCase) team(ctx context.Context, op, id string) (*domain.Team, error) {
	team, err := uc.store.GetTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}
	if team == nil {
		return nil, domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("team %s", id))
	}
	return team, nil
}

func (uc *DirectoryUseCase) ledTeam(ctx context.Context, op string, actor domain.Actor, id string) (*domain.Team, error) {
	if err := requireActor(op, actor); err != nil {
		return nil, err
	}
	team, err := uc.team(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if team.LeaderID != actor.UserID {
		return nil, domain.Denied(op, "only the team leader may manage the team")
	}
	return team, nil
}

func (uc *DirectoryUseCase) group(ctx context.Context, op, id string) (*domain.Group, error) {
	group, err := uc.store.GetGroup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if group == nil {
		return nil, domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("group %s", id))
	}
	return group, nil
}

func isAcceptedMember(group *domain.Group, userID string) bool {
	for _, m := range group.Members {
		if m.UserID == userID && m.Status == domain.MemberAccepted {
			return true
		}
	}
	return false
}

func directoryName(op, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", domain.Invalid(op, "name is required")
	case utf8.RuneCountInString(name) > maxDirectoryNameLen:
		return "", domain.Invalid(op, fmt.Sprintf("name must be at most %d characters", maxDirectoryNameLen))
	}
	return name, nil
}
