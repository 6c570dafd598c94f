package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/teambeat/internal/team"
)

// TeamService manages teams and their members. *team.Service implements it.
type TeamService interface {
	Create(ctx context.Context, input team.CreateTeamInput) (*team.Team, error)
	GetByID(ctx context.Context, id string) (*team.Team, error)
	List(ctx context.Context, orgID string) ([]*team.Team, error)
	Update(ctx context.Context, id string, input team.UpdateTeamInput) (*team.Team, error)
	AddMember(ctx context.Context, teamID string, input team.AddMemberInput) (*team.Member, error)
	UpdateMember(ctx context.Context, teamID, memberID string, input team.UpdateMemberInput) (*team.Member, error)
	ListMembers(ctx context.Context, teamID string, activeOnly bool) ([]*team.Member, error)
}

// teamsHandler groups team and member HTTP handlers.
type teamsHandler struct {
	svc TeamService
}

func newTeamsHandler(svc TeamService) *teamsHandler {
	return &teamsHandler{svc: svc}
}

// CreateTeam handles POST /api/v1/admin/teams.
func (h *teamsHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var input team.CreateTeamInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	t, err := h.svc.Create(r.Context(), input)
	if err != nil {
		writeServiceError(w, err, "team", "failed to create team")
		return
	}

	auditLog(r, "create", "team", t.ID, "name", t.Name)
	writeJSON(w, http.StatusCreated, t)
}

// ListTeams handles GET /api/v1/admin/teams, optionally filtered by ?org_id=.
func (h *teamsHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.List(r.Context(), r.URL.Query().Get("org_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list teams")
		return
	}
	if teams == nil {
		teams = []*team.Team{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

// GetTeam handles GET /api/v1/admin/teams/{teamID}.
func (h *teamsHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err, "team", "failed to get team")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTeam handles PUT /api/v1/admin/teams/{teamID}. A schedule change
// recomputes next_send.
func (h *teamsHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "teamID")

	var input team.UpdateTeamInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	t, err := h.svc.Update(r.Context(), id, input)
	if err != nil {
		writeServiceError(w, err, "team", "failed to update team")
		return
	}

	auditLog(r, "update", "team", id)
	writeJSON(w, http.StatusOK, t)
}

// AddMember handles POST /api/v1/admin/teams/{teamID}/members. Adding a user
// who is already a member reactivates them.
func (h *teamsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	var input team.AddMemberInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	m, err := h.svc.AddMember(r.Context(), teamID, input)
	if err != nil {
		writeServiceError(w, err, "team", "failed to add member")
		return
	}

	auditLog(r, "add_member", "team", teamID, "member_id", m.ID, "user_id", m.UserID)
	writeJSON(w, http.StatusCreated, m)
}

// ListMembers handles GET /api/v1/admin/teams/{teamID}/members. Pass
// ?active=true to hide deactivated members.
func (h *teamsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_param", "active must be a boolean")
			return
		}
		activeOnly = b
	}

	members, err := h.svc.ListMembers(r.Context(), chi.URLParam(r, "teamID"), activeOnly)
	if err != nil {
		writeServiceError(w, err, "team", "failed to list members")
		return
	}
	if members == nil {
		members = []*team.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// UpdateMember handles PUT /api/v1/admin/teams/{teamID}/members/{memberID}.
func (h *teamsHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	memberID := chi.URLParam(r, "memberID")

	var input team.UpdateMemberInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	m, err := h.svc.UpdateMember(r.Context(), teamID, memberID, input)
	if err != nil {
		writeServiceError(w, err, "member", "failed to update member")
		return
	}

	auditLog(r, "update_member", "team", teamID, "member_id", memberID)
	writeJSON(w, http.StatusOK, m)
}
