// Package authmw guards operator routes with static bearer tokens.
package authmw

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Realm is advertised in WWW-Authenticate challenges.
const Realm = "aitriage-admin"

// BearerToken returns middleware that admits requests whose Authorization
// header carries one of tokens. The scheme is matched case-insensitively.
// Empty tokens are ignored, and with no usable token every request is
// rejected.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			accepted = append(accepted, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				challenge(w, "", "missing or malformed authorization header")
				return
			}
			if !matchAny(accepted, []byte(got)) {
				challenge(w, "invalid_token", "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, cred, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}

// matchAny compares against every token so timing does not reveal which
// one matched.
func matchAny(accepted [][]byte, got []byte) bool {
	match := 0
	for _, want := range accepted {
		match |= subtle.ConstantTimeCompare(got, want)
	}
	return match == 1
}

func challenge(w http.ResponseWriter, code, msg string) {
	c := `Bearer realm="` + Realm + `"`
	if code != "" {
		c += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", c)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
