package fundd

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authenticator validates bearer credentials on mutating requests. An empty
// token disables authentication, which is only acceptable for local runs.
type Authenticator struct {
	bearerToken string
}

func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{bearerToken: strings.TrimSpace(token)}
}

// Enabled reports whether a token has been configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.bearerToken != ""
}

// Middleware enforces authentication for protected handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := parseBearerToken(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) != 1 {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
