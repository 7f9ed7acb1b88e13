package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Keys are the API keys accepted in Authorization: Bearer or X-API-Key.
// An empty set disables the corresponding check.
type Keys struct {
	Public []string
	Admin  []string
}

type role int

const (
	roleNone role = iota
	rolePublic
	roleAdmin
)

// roleOf resolves the presented key. Every configured key is compared so the
// time taken does not depend on which one matched.
func (k Keys) roleOf(r *http.Request) (presented bool, got role) {
	key := presentedKey(r)
	if key == "" {
		return false, roleNone
	}
	got = roleNone
	if matchAny(key, k.Public) {
		got = rolePublic
	}
	if matchAny(key, k.Admin) {
		got = roleAdmin
	}
	return true, got
}

func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func matchAny(given string, set []string) bool {
	hit := 0
	for _, k := range set {
		hit |= subtle.ConstantTimeCompare([]byte(k), []byte(given))
	}
	return hit == 1
}

// RequireAny admits public and admin keys. Open when no keys are configured.
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	return require(keys, rolePublic, len(keys.Public)+len(keys.Admin) > 0)
}

// RequireAdmin admits admin keys only. Open when no admin keys are configured.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	return require(keys, roleAdmin, len(keys.Admin) > 0)
}

func require(keys Keys, need role, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, got := keys.roleOf(r)
			switch {
			case got >= need:
				next.ServeHTTP(w, r)
			case presented && got != roleNone:
				deny(w, http.StatusForbidden, "forbidden")
			default:
				deny(w, http.StatusUnauthorized, "unauthorized")
			}
		})
	}
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
