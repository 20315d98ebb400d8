package authz

import (
	"net/http"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/contextkeys"
	"github.com/huddlehq/huddle/pkg/httputil"
	"github.com/huddlehq/huddle/pkg/middleware"
)

// PermissionMiddleware gates team-scoped routes on the permission matrix.
// It expects AuthMiddleware and TeamContextMiddleware to have run first.
// Denials of manage-level flags are written to the audit trail.
type PermissionMiddleware struct {
	evaluator *Evaluator
	audit     audit.Recorder
}

// NewPermissionMiddleware creates a new permission middleware. A nil recorder
// disables audit of denials.
func NewPermissionMiddleware(evaluator *Evaluator, rec audit.Recorder) *PermissionMiddleware {
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &PermissionMiddleware{evaluator: evaluator, audit: rec}
}

// RequirePermission requires the caller to hold the given flag in the team
// from the request path. Denials and evaluation failures both yield 403.
func (pm *PermissionMiddleware) RequirePermission(flag PermissionFlag) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.GetPrincipal(r)
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			teamID, ok := contextkeys.GetTeamID(r.Context())
			if !ok {
				httputil.WriteBadRequest(w, "team context required")
				return
			}

			if !pm.evaluator.HasPermission(r.Context(), principal.ID, teamID, flag) {
				if flag.IsPrivileged() {
					pm.audit.Record(r.Context(), audit.Event{
						EventType: audit.EventAccessDenied,
						Status:    audit.StatusDenied,
						ActorID:   principal.ID,
						TeamID:    teamID,
						Message:   string(flag),
					})
				}
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireTeamAdmin requires the caller to hold the team's admin role.
func (pm *PermissionMiddleware) RequireTeamAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := middleware.GetPrincipal(r)
		if principal == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		teamID, ok := contextkeys.GetTeamID(r.Context())
		if !ok {
			httputil.WriteBadRequest(w, "team context required")
			return
		}

		if !pm.evaluator.IsTeamAdmin(r.Context(), principal.ID, teamID) {
			pm.audit.Record(r.Context(), audit.Event{
				EventType: audit.EventAccessDenied,
				Status:    audit.StatusDenied,
				ActorID:   principal.ID,
				TeamID:    teamID,
				Message:   "teamAdmin",
			})
			httputil.WriteForbidden(w, "team admin required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireResourceAccess requires the caller to be able to perform the action
// on the resource named in the {resource_id} path variable. The resource's
// team is resolved from storage, not from the URL.
func (pm *PermissionMiddleware) RequireResourceAccess(kind ResourceKind, action ResourceAction) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.GetPrincipal(r)
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			resourceID, ok := httputil.ParsePathInt64OrError(w, r, "resource_id")
			if !ok {
				return
			}

			if !pm.evaluator.CanAccessResource(r.Context(), principal.ID, kind, resourceID, action) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
