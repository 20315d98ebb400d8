// Package httputil holds the JSON request/response helpers and generic
// HTTP middleware shared by the teams and authz handlers.
//
// # Responses
//
// Success:
//
//	httputil.WriteSuccess(w, team)
//	httputil.WriteCreated(w, role)
//	httputil.WriteNoContent(w)
//
// Errors (all produce the same {"error": "..."} shape):
//
//	httputil.WriteBadRequest(w, "name is required")
//	httputil.WriteForbidden(w, "missing permission")
//	httputil.WriteConflict(w, "cannot remove the last admin")
//	httputil.WriteInternalError(w, err)
//
// # Request parsing
//
// JSON bodies:
//
//	var req createTeamRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//
// Path parameters (gorilla/mux route vars):
//
//	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamID")
//	token, ok := httputil.ParsePathStringOrError(w, r, "token")
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 20)
//	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, req.Name, "name") {
//		return
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//	)
//
// Authentication and permission middleware live in pkg/middleware and
// pkg/authz.
package httputil
