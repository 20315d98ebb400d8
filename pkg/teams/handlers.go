package teams

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/authz"
	"github.com/huddlehq/huddle/pkg/httputil"
	"github.com/huddlehq/huddle/pkg/middleware"
	"github.com/huddlehq/huddle/pkg/observability"
)

// Handlers provides the HTTP surface for the team lifecycle.
type Handlers struct {
	service   *Service
	evaluator *authz.Evaluator
	logger    *observability.Logger
	audit     audit.Recorder
}

// NewHandlers creates the team handlers. The recorder captures denied checks
// of manage-level permissions; nil disables that.
func NewHandlers(service *Service, evaluator *authz.Evaluator, logger *observability.Logger, rec audit.Recorder) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &Handlers{
		service:   service,
		evaluator: evaluator,
		logger:    logger,
		audit:     rec,
	}
}

// RegisterRoutes registers the team routes. Creation and listing require only
// authentication; team-scoped routes are gated on the permission matrix.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	pm := authz.NewPermissionMiddleware(h.evaluator, h.audit)

	router.Handle("/teams", middleware.RequireAuthenticated(http.HandlerFunc(h.CreateTeam))).Methods("POST")
	router.Handle("/teams", middleware.RequireAuthenticated(http.HandlerFunc(h.ListTeams))).Methods("GET")

	team := router.PathPrefix("/teams/{team_id}").Subrouter()
	team.Use(middleware.TeamContextMiddleware)
	team.Handle("", pm.RequirePermission(authz.PermViewTeam)(http.HandlerFunc(h.GetTeam))).Methods("GET")
	team.Handle("", pm.RequirePermission(authz.PermManageTeam)(http.HandlerFunc(h.UpdateTeam))).Methods("PATCH")
	team.Handle("", pm.RequireTeamAdmin(http.HandlerFunc(h.DeleteTeam))).Methods("DELETE")
}

func writeTeamError(w http.ResponseWriter, err error) {
	switch {
	case authz.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case authz.IsInvariantViolation(err):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// CreateTeam handles POST /teams
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	var req struct {
		Name        string `json:"name"`
		Slug        string `json:"slug"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	team, err := h.service.CreateTeam(r.Context(), CreateTeamRequest{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		CreatorID:   principal.ID,
	})
	if err != nil {
		writeTeamError(w, err)
		return
	}

	httputil.WriteCreated(w, team)
}

// ListTeams handles GET /teams, listing the caller's teams.
func (h *Handlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	teams, err := h.service.ListPrincipalTeams(r.Context(), principal.ID)
	if err != nil {
		writeTeamError(w, err)
		return
	}

	httputil.WriteSuccess(w, teams)
}

// GetTeam handles GET /teams/{team_id}
func (h *Handlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	team, err := h.service.GetTeam(r.Context(), teamID)
	if err != nil {
		writeTeamError(w, err)
		return
	}

	httputil.WriteSuccess(w, team)
}

// UpdateTeam handles PATCH /teams/{team_id}
func (h *Handlers) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	var req struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var actorID int64
	if principal := middleware.GetPrincipal(r); principal != nil {
		actorID = principal.ID
	}

	team, err := h.service.UpdateTeam(r.Context(), teamID, UpdateTeamRequest{
		Name:        req.Name,
		Description: req.Description,
		ActorID:     actorID,
	})
	if err != nil {
		writeTeamError(w, err)
		return
	}

	httputil.WriteSuccess(w, team)
}

// DeleteTeam handles DELETE /teams/{team_id}
func (h *Handlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	var actorID int64
	if principal := middleware.GetPrincipal(r); principal != nil {
		actorID = principal.ID
	}

	if err := h.service.DeleteTeam(r.Context(), teamID, actorID); err != nil {
		writeTeamError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
