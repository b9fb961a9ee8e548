// internal/httpapi/auth.go
package httpapi

import (
	"crypto/subtle"
	"net/http"
)

const authRealm = `Basic realm="scd30-monitor", charset="UTF-8"`

// requireAdmin guards next with basic auth against the admin password.
// The user name is ignored. An empty admin password rejects every request.
func (h *handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || h.adminPassword == "" ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.adminPassword)) != 1 {
			h.log.Warn("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", authRealm)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
