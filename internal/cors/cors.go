// Package cors echoes cross-origin headers for allowlisted callers. The
// caller is identified by the Referer header, compared exactly against the
// CORS allowlist after dropping one trailing slash.
package cors

import (
	"net/http"
	"strings"
)

// AllowedMethods is sent with every accepted origin.
const AllowedMethods = "GET,POST,PUT,PATCH,DELETE"

// Gate holds the origin allowlist. The zero value allows nothing.
type Gate struct {
	allowed map[string]struct{}
}

// New builds a gate from the configured origins. Blank entries are ignored.
func New(origins []string) *Gate {
	g := &Gate{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		g.allowed[o] = struct{}{}
	}
	return g
}

// Len returns the number of allowlisted origins.
func (g *Gate) Len() int {
	if g == nil {
		return 0
	}
	return len(g.allowed)
}

// Allow normalizes referer and reports whether it is allowlisted.
func (g *Gate) Allow(referer string) (string, bool) {
	if g == nil || referer == "" {
		return "", false
	}
	origin := strings.TrimSuffix(referer, "/")
	if _, ok := g.allowed[origin]; !ok {
		return "", false
	}
	return origin, true
}

// Apply sets the CORS headers on w when the request's referer is allowed.
// It never rejects a request.
func (g *Gate) Apply(w http.ResponseWriter, r *http.Request) bool {
	origin, ok := g.Allow(r.Header.Get("Referer"))
	if !ok {
		return false
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", AllowedMethods)
	h.Add("Vary", "Referer")
	return true
}

// Middleware applies the gate to every request before calling next.
func Middleware(g *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.Apply(w, r)
			next.ServeHTTP(w, r)
		})
	}
}
