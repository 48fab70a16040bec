package handlers

import (
	"net/http"

	"github.com/bookloan/apiserver/internal/authz"
)

// RequireAdmin rejects callers without the admin role before the handler
// runs. It must be mounted after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	var gate authz.Gate
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := gate.Require(authz.IdentityFrom(r.Context()), authz.Admin, 0); err != nil {
			writeAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
