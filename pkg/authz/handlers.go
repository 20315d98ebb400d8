package authz

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/httputil"
	"github.com/huddlehq/huddle/pkg/middleware"
	"github.com/huddlehq/huddle/pkg/observability"
)

// Handlers provides the HTTP surface for roles, memberships, and permission
// queries. Routes are team-scoped except invitation acceptance, which is
// keyed by token.
type Handlers struct {
	roles     *RoleService
	members   *MemberService
	evaluator *Evaluator
	logger    *observability.Logger
	audit     audit.Recorder
}

// NewHandlers creates the authorization handlers. The recorder captures
// denied checks of manage-level permissions; nil disables that.
func NewHandlers(roles *RoleService, members *MemberService, evaluator *Evaluator, logger *observability.Logger, rec audit.Recorder) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &Handlers{
		roles:     roles,
		members:   members,
		evaluator: evaluator,
		logger:    logger,
		audit:     rec,
	}
}

// RegisterRoutes registers all role and membership routes on the router. The
// router is expected to already run authentication middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	pm := NewPermissionMiddleware(h.evaluator, h.audit)

	team := router.PathPrefix("/teams/{team_id}").Subrouter()
	team.Use(middleware.TeamContextMiddleware)

	manageRoles := pm.RequirePermission(PermManageTeamRoles)
	manageMembers := pm.RequirePermission(PermManageTeamMembers)
	viewTeam := pm.RequirePermission(PermViewTeam)

	team.Handle("/roles", manageRoles(http.HandlerFunc(h.CreateRole))).Methods("POST")
	team.Handle("/roles", viewTeam(http.HandlerFunc(h.ListRoles))).Methods("GET")
	team.Handle("/roles/{role_id}", viewTeam(http.HandlerFunc(h.GetRole))).Methods("GET")
	team.Handle("/roles/{role_id}", manageRoles(http.HandlerFunc(h.UpdateRole))).Methods("PUT")
	team.Handle("/roles/{role_id}", manageRoles(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")

	team.Handle("/members", viewTeam(http.HandlerFunc(h.ListMembers))).Methods("GET")
	team.Handle("/members", manageMembers(http.HandlerFunc(h.AddMember))).Methods("POST")
	team.Handle("/members/{principal_id}", viewTeam(http.HandlerFunc(h.GetMember))).Methods("GET")
	team.Handle("/members/{principal_id}", manageMembers(http.HandlerFunc(h.UpdateMember))).Methods("PATCH")
	team.Handle("/members/{principal_id}", manageMembers(http.HandlerFunc(h.RemoveMember))).Methods("DELETE")

	team.Handle("/invitations", manageMembers(http.HandlerFunc(h.InviteMember))).Methods("POST")

	team.Handle("/permissions", http.HandlerFunc(h.GetMyPermissions)).Methods("GET")
	team.Handle("/permissions/check", http.HandlerFunc(h.CheckPermission)).Methods("POST")
	team.Handle("/permissions/{flag}/users", viewTeam(http.HandlerFunc(h.ListUsersWithPermission))).Methods("GET")

	router.HandleFunc("/invitations/{token}/accept", h.AcceptInvitation).Methods("POST")
}

// writeDomainError maps service errors onto HTTP statuses: missing entities
// to 404, cross-team references to 422, invariant violations to 409, and
// everything else to 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case IsInvalidReference(err):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case IsInvariantViolation(err):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// roleBelongsToTeam 404s when the role does not exist in the team from the
// request path.
func (h *Handlers) roleBelongsToTeam(w http.ResponseWriter, r *http.Request, roleID, teamID int64) bool {
	role, err := h.roles.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeDomainError(w, err)
		return false
	}
	if role.TeamID != teamID {
		httputil.WriteNotFoundError(w, "role not found in this team")
		return false
	}
	return true
}

func requestActor(r *http.Request) int64 {
	if principal := middleware.GetPrincipal(r); principal != nil {
		return principal.ID
	}
	return 0
}

// CreateRole handles POST /teams/{team_id}/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	var req struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		IsDefault   bool            `json:"is_default"`
		Permissions map[string]bool `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role, err := h.roles.CreateRole(r.Context(), CreateRoleRequest{
		TeamID:      teamID,
		Name:        req.Name,
		Description: req.Description,
		IsDefault:   req.IsDefault,
		Overrides:   PermissionOverrides(req.Permissions),
		ActorID:     requestActor(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// ListRoles handles GET /teams/{team_id}/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	roles, err := h.roles.GetTeamRoles(r.Context(), teamID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// GetRole handles GET /teams/{team_id}/roles/{role_id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	role, err := h.roles.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if role.TeamID != teamID {
		httputil.WriteNotFoundError(w, "role not found in this team")
		return
	}

	httputil.WriteSuccess(w, role)
}

// UpdateRole handles PUT /teams/{team_id}/roles/{role_id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	var req struct {
		Name        *string         `json:"name,omitempty"`
		Description *string         `json:"description,omitempty"`
		IsAdmin     *bool           `json:"is_admin,omitempty"`
		IsDefault   *bool           `json:"is_default,omitempty"`
		Permissions map[string]bool `json:"permissions,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !h.roleBelongsToTeam(w, r, roleID, teamID) {
		return
	}

	role, err := h.roles.UpdateRole(r.Context(), roleID, UpdateRoleRequest{
		Name:        req.Name,
		Description: req.Description,
		IsAdmin:     req.IsAdmin,
		IsDefault:   req.IsDefault,
		Overrides:   PermissionOverrides(req.Permissions),
		ActorID:     requestActor(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /teams/{team_id}/roles/{role_id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	if !h.roleBelongsToTeam(w, r, roleID, teamID) {
		return
	}

	if err := h.roles.DeleteRole(r.Context(), roleID, requestActor(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListMembers handles GET /teams/{team_id}/members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	members, err := h.members.GetTeamMembers(r.Context(), teamID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// GetMember handles GET /teams/{team_id}/members/{principal_id}
func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "principal_id")
	if !ok {
		return
	}

	member, err := h.members.store.GetMembership(r.Context(), teamID, principalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

// AddMember handles POST /teams/{team_id}/members
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	var req struct {
		PrincipalID int64  `json:"principal_id"`
		RoleID      int64  `json:"role_id"`
		DisplayName string `json:"display_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.PrincipalID, "principal_id") {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	member, err := h.members.AddMember(r.Context(), teamID, req.PrincipalID, req.RoleID, req.DisplayName)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, member)
}

// InviteMember handles POST /teams/{team_id}/invitations
func (h *Handlers) InviteMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	var req struct {
		Email  string `json:"email"`
		RoleID int64  `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	member, err := h.members.InviteMember(r.Context(), teamID, requestActor(r), req.Email, req.RoleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, member)
}

// AcceptInvitation handles POST /invitations/{token}/accept
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	member, err := h.members.AcceptInvitation(r.Context(), token, principal.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

// UpdateMember handles PATCH /teams/{team_id}/members/{principal_id}
func (h *Handlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "principal_id")
	if !ok {
		return
	}

	var req struct {
		RoleID        *int64             `json:"role_id,omitempty"`
		DisplayName   *string            `json:"display_name,omitempty"`
		Status        *MemberStatus      `json:"status,omitempty"`
		Notifications *NotificationPrefs `json:"notifications,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.members.UpdateMember(r.Context(), teamID, principalID, UpdateMemberRequest{
		RoleID:        req.RoleID,
		DisplayName:   req.DisplayName,
		Status:        req.Status,
		Notifications: req.Notifications,
		ActorID:       requestActor(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

// RemoveMember handles DELETE /teams/{team_id}/members/{principal_id}
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "principal_id")
	if !ok {
		return
	}

	if err := h.members.RemoveMember(r.Context(), teamID, principalID, requestActor(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetMyPermissions handles GET /teams/{team_id}/permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	perms := h.evaluator.GetUserPermissions(r.Context(), principal.ID, teamID)
	httputil.WriteSuccess(w, perms)
}

// CheckPermission handles POST /teams/{team_id}/permissions/check
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	var req struct {
		Flag string `json:"flag"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	flag := PermissionFlag(req.Flag)
	if !flag.IsValid() {
		httputil.WriteValidationError(w, "unknown permission flag")
		return
	}

	allowed := h.evaluator.HasPermission(r.Context(), principal.ID, teamID, flag)
	httputil.WriteSuccess(w, map[string]interface{}{
		"flag":    flag,
		"allowed": allowed,
	})
}

// ListUsersWithPermission handles GET /teams/{team_id}/permissions/{flag}/users
func (h *Handlers) ListUsersWithPermission(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "team_id")
	if !ok {
		return
	}

	flagStr, ok := httputil.ParsePathStringOrError(w, r, "flag")
	if !ok {
		return
	}
	flag := PermissionFlag(flagStr)
	if !flag.IsValid() {
		httputil.WriteValidationError(w, "unknown permission flag")
		return
	}

	principalIDs, err := h.evaluator.GetUsersWithPermission(r.Context(), teamID, flag)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"flag":       flag,
		"principals": principalIDs,
	})
}
