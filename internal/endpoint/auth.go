package endpoint

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// PublicPaths are served without authentication, so that load balancers can probe the instance.
var PublicPaths = []string{"/healthz"}

// BasicAuth guards a handler with a single name and password.
type BasicAuth struct {
	Handler            http.Handler
	Username, Password string
	Public             []string
}

// WithBasicAuth wraps handler with a BasicAuth.
// userinfo is "name:password". An empty userinfo disables authentication.
func WithBasicAuth(handler http.Handler, userinfo string) http.Handler {
	if userinfo == "" {
		return handler
	}

	a := BasicAuth{Handler: handler, Public: PublicPaths}
	a.Username, a.Password, _ = strings.Cut(userinfo, ":")

	return a
}

func (a BasicAuth) isPublic(path string) bool {
	for _, p := range a.Public {
		if path == p {
			return true
		}
	}
	return false
}

func (a BasicAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.isPublic(r.URL.Path) {
		a.Handler.ServeHTTP(w, r)
		return
	}

	username, password, ok := r.BasicAuth()

	// Both are compared even if the name is wrong, to keep the timing the same.
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.Password)) == 1

	if !ok || !userOK || !passOK {
		w.Header().Set("WWW-Authenticate", `Basic realm="telecache", charset="UTF-8"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", "credentials are required")
		return
	}

	a.Handler.ServeHTTP(w, r)
}
