package httpserver

import (
	"net/http"
	"strings"

	"github.com/callmesh/callmesh/internal/origin"
)

// WithOriginPolicy exposes the origin check for handlers registered outside
// this package (the signaling WebSocket endpoint).
func (s *Server) WithOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return s.withOriginPolicy(next)
}

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			// Non-browser clients (the CLI) send no Origin header.
			next(w, r)
			return
		}

		normalized, originHost, ok := origin.Normalize(originHeader)
		if !ok || !origin.Allowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
