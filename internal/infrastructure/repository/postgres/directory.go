package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/xpense/internal/core/domain"
)

// Directory stores teams, expense groups and group invites. Reads of missing rows
// yield nil without an error.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	var team domain.Team
	err := d.db.QueryRowContext(ctx, `SELECT id, name, leader_id FROM teams WHERE id = $1`, id).
		Scan(&team.ID, &team.Name, &team.LeaderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	if team.Members, err = d.teamMembers(ctx, id); err != nil {
		return nil, err
	}
	return &team, nil
}

// ListTeamsFor returns the teams userID leads or belongs to.
func (d *Directory) ListTeamsFor(ctx context.Context, userID string) ([]domain.Team, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT t.id, t.name, t.leader_id FROM teams t
WHERE t.leader_id = $1 OR EXISTS (SELECT 1 FROM team_members m WHERE m.team_id = t.id AND m.user_id = $1)
ORDER BY t.name, t.id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	teams := make([]domain.Team, 0)
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.LeaderID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	rows.Close()

	for i := range teams {
		if teams[i].Members, err = d.teamMembers(ctx, teams[i].ID); err != nil {
			return nil, err
		}
	}
	return teams, nil
}

// CreateTeam inserts the team with its leader as the first member.
func (d *Directory) CreateTeam(ctx context.Context, team domain.Team) error {
	return d.inTx(ctx, "create team", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO teams (id, name, leader_id) VALUES ($1, $2, $3)`,
			team.ID, team.Name, team.LeaderID); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		for _, userID := range team.Members {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO team_members (team_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
`, team.ID, userID); err != nil {
				return fmt.Errorf("insert team member: %w", err)
			}
		}
		return nil
	})
}

func (d *Directory) RenameTeam(ctx context.Context, id, name string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE teams SET name = $2 WHERE id = $1`, id, name)
	return expectRow("rename team", result, err, domain.ErrNotFound, "team "+id)
}

func (d *Directory) AddTeamMember(ctx context.Context, teamID, userID string) error {
	result, err := d.db.ExecContext(ctx, `
INSERT INTO team_members (team_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
`, teamID, userID)
	return expectRow("add team member", result, err, domain.ErrConflict, userID+" is already in team "+teamID)
}

func (d *Directory) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	return expectRow("remove team member", result, err, domain.ErrNotFound, userID+" is not in team "+teamID)
}

func (d *Directory) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	var group domain.Group
	err := d.db.QueryRowContext(ctx, `SELECT id, name, created_by FROM expense_groups WHERE id = $1`, id).
		Scan(&group.ID, &group.Name, &group.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	if group.Members, err = d.groupMembers(ctx, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroupsFor returns the groups userID created or accepted an invite to.
func (d *Directory) ListGroupsFor(ctx context.Context, userID string) ([]domain.Group, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT g.id, g.name, g.created_by FROM expense_groups g
WHERE g.created_by = $1 OR EXISTS (
	SELECT 1 FROM group_members m WHERE m.group_id = g.id AND m.user_id = $1 AND m.status = 'accepted'
)
ORDER BY g.name, g.id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]domain.Group, 0)
	for rows.Next() {
		var group domain.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	rows.Close()

	for i := range groups {
		if groups[i].Members, err = d.groupMembers(ctx, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// CreateGroup inserts the group with its members in order. The creator is expected
// among them as accepted.
func (d *Directory) CreateGroup(ctx context.Context, group domain.Group) error {
	return d.inTx(ctx, "create group", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO expense_groups (id, name, created_by) VALUES ($1, $2, $3)`,
			group.ID, group.Name, group.CreatedBy); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		for i, m := range group.Members {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO group_members (group_id, user_id, status, position, invited_by) VALUES ($1, $2, $3, $4, $5)
`, group.ID, m.UserID, string(m.Status), i, group.CreatedBy); err != nil {
				return fmt.Errorf("insert group member: %w", err)
			}
		}
		return nil
	})
}

func (d *Directory) RenameGroup(ctx context.Context, id, name string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE expense_groups SET name = $2 WHERE id = $1`, id, name)
	return expectRow("rename group", result, err, domain.ErrNotFound, "group "+id)
}

// InviteGroupMember appends a pending member after the existing ones.
func (d *Directory) InviteGroupMember(ctx context.Context, groupID, userID, invitedBy string) error {
	result, err := d.db.ExecContext(ctx, `
INSERT INTO group_members (group_id, user_id, status, position, invited_by)
SELECT $1, $2, 'pending', COALESCE(MAX(position) + 1, 0), $3 FROM group_members WHERE group_id = $1
ON CONFLICT DO NOTHING
`, groupID, userID, invitedBy)
	return expectRow("invite group member", result, err, domain.ErrConflict, userID+" is already in group "+groupID)
}

func (d *Directory) RespondToInvite(ctx context.Context, groupID, userID string, accept bool) error {
	query := `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2 AND status = 'pending'`
	if accept {
		query = `UPDATE group_members SET status = 'accepted' WHERE group_id = $1 AND user_id = $2 AND status = 'pending'`
	}
	result, err := d.db.ExecContext(ctx, query, groupID, userID)
	return expectRow("respond to invite", result, err, domain.ErrNotFound, "no pending invite to group "+groupID)
}

func (d *Directory) ListInvites(ctx context.Context, userID string) ([]domain.GroupInvite, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT g.id, g.name, m.invited_by FROM group_members m
JOIN expense_groups g ON g.id = m.group_id
WHERE m.user_id = $1 AND m.status = 'pending'
ORDER BY g.name, g.id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]domain.GroupInvite, 0)
	for rows.Next() {
		invite := domain.GroupInvite{UserID: userID}
		if err := rows.Scan(&invite.GroupID, &invite.GroupName, &invite.InvitedBy); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return invites, nil
}

func (d *Directory) teamMembers(ctx context.Context, teamID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY user_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return members, nil
}

func (d *Directory) groupMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT user_id, status FROM group_members
WHERE group_id = $1
ORDER BY position, user_id
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	members := make([]domain.GroupMember, 0)
	for rows.Next() {
		var m domain.GroupMember
		var status string
		if err := rows.Scan(&m.UserID, &status); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		m.Status = domain.MemberStatus(status)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}

func (d *Directory) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// expectRow turns a statement that touched no rows into kind.
func expectRow(op string, result sql.Result, err error, kind error, detail string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(kind, op, errors.New(detail))
	}
	return nil
}
