package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CookieName holds the access token in browsers.
const CookieName = "vgs_token"

// Middleware rejects requests that do not carry token, either as a bearer
// Authorization header, a cookie, or a token query parameter. A valid query
// parameter sets the cookie so later page loads need no parameter. Paths in
// open are always allowed. A nil token allows everything.
func Middleware(token *Token, open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == nil || token.Raw == "" {
			return next
		}
		want := []byte(token.Raw)
		match := func(got string) bool {
			return got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range open {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			if h := r.Header.Get("Authorization"); h != "" {
				if match(strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if c, err := r.Cookie(CookieName); err == nil && match(c.Value) {
				next.ServeHTTP(w, r)
				return
			}
			if q := r.URL.Query().Get("token"); match(q) {
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    q,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteStrictMode,
				})
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("WWW-Authenticate", `Bearer realm="vgs"`)
			http.Error(w, "access token required", http.StatusUnauthorized)
		})
	}
}
