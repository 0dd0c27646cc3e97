package admin

import (
	"net"
	"net/http"
	"strings"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/cfg"
)

// anonymousAdmin acts for every request when authentication is disabled
var anonymousAdmin = actor.Actor{
	ID:           1,
	Name:         "admin",
	Capabilities: []string{actor.CapEditPosts, actor.CapManageOptions},
}

// AuthMiddleware resolves the bearer token to a configured user and
// attaches it to the request context as the acting user
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		// If auth is not enabled, act as the anonymous administrator
		if !cfg.Config.Auth.Enabled {
			a := anonymousAdmin
			a.IP = ip
			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
			return
		}
		// Parse "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		user, ok := cfg.FindUserByToken(strings.TrimSpace(parts[1]))
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}

		a := actor.Actor{ID: user.ID, Name: user.Name, IP: ip, Capabilities: user.Capabilities}
		next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
	})
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware
// has already applied X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
