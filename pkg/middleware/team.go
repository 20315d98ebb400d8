package middleware

import (
	"net/http"

	"github.com/huddlehq/huddle/pkg/contextkeys"
	"github.com/huddlehq/huddle/pkg/httputil"
)

// TeamContextMiddleware resolves the {team_id} path variable and stashes it
// in the request context for team-scoped handlers and permission checks.
func TeamContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID, err := httputil.ParsePathInt64(r, "team_id")
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}

		ctx := contextkeys.WithTeamID(r.Context(), teamID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
