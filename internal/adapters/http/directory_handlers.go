package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/xpense/internal/core/domain"
)

type nameRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	UserID string `json:"userId"`
}

func (rt *Router) listTeams(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	teams, err := rt.directory.ListTeams(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": teams})
}

func (rt *Router) createTeam(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	team, err := rt.directory.CreateTeam(r.Context(), actor, req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Info("team_created", "team_id", team.ID, "actor", actor.UserID)
	writeJSON(w, http.StatusCreated, team)
}

func (rt *Router) getTeam(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	team, err := rt.directory.GetTeam(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (rt *Router) renameTeam(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	team, err := rt.directory.RenameTeam(r.Context(), actor, r.PathValue("id"), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (rt *Router) addTeamMember(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	team, err := rt.directory.AddTeamMember(r.Context(), actor, r.PathValue("id"), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (rt *Router) removeTeamMember(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	team, err := rt.directory.RemoveTeamMember(r.Context(), actor, r.PathValue("id"), r.PathValue("userId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (rt *Router) listGroups(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	groups, err := rt.directory.ListGroups(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": groups})
}

func (rt *Router) createGroup(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := rt.directory.CreateGroup(r.Context(), actor, req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Info("group_created", "group_id", group.ID, "actor", actor.UserID)
	writeJSON(w, http.StatusCreated, group)
}

func (rt *Router) getGroup(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	group, err := rt.directory.GetGroup(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (rt *Router) renameGroup(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := rt.directory.RenameGroup(r.Context(), actor, r.PathValue("id"), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (rt *Router) inviteGroupMember(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := rt.directory.InviteGroupMember(r.Context(), actor, r.PathValue("id"), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Info("group_invite_sent", "group_id", group.ID, "actor", actor.UserID, "invitee", req.UserID)
	writeJSON(w, http.StatusCreated, group)
}

func (rt *Router) acceptInvite(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	group, err := rt.directory.AcceptInvite(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (rt *Router) rejectInvite(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if err := rt.directory.RejectInvite(r.Context(), actor, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listInvites(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	invites, err := rt.directory.ListInvites(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invites})
}
