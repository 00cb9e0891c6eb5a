package middleware

import (
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Headers the dashboard sends on API calls. Idempotency-Key guards
// POST /api/send-results against double submission.
var corsAllowedHeaders = []string{"Authorization", "Content-Type", "Idempotency-Key", chimw.RequestIDHeader}

// Headers browser code may read from responses.
var corsExposedHeaders = []string{chimw.RequestIDHeader, "Retry-After"}

const corsAllowedMethods = "GET, POST, DELETE, OPTIONS"

// CORS is an allowlist-based CORS middleware for the dashboard origins.
// "*" echoes any Origin. Preflights from unlisted origins, or asking for a
// header outside corsAllowedHeaders, are answered 403 without reaching the
// router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := false
	allow := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			allowAny = true
		default:
			allow[origin] = struct{}{}
		}
	}

	headerSet := make(map[string]struct{}, len(corsAllowedHeaders))
	for _, h := range corsAllowedHeaders {
		headerSet[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	allowedHeaders := strings.Join(corsAllowedHeaders, ", ")
	exposedHeaders := strings.Join(corsExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, listed := allow[origin]
			allowed := allowAny || listed
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			w.Header().Add("Vary", "Origin")
			if preflight {
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				if !allowed || !requestedHeadersAllowed(headerSet, r.Header.Get("Access-Control-Request-Headers")) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestedHeadersAllowed(allowed map[string]struct{}, requested string) bool {
	for _, h := range strings.Split(requested, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, ok := allowed[http.CanonicalHeaderKey(h)]; !ok {
			return false
		}
	}
	return true
}
