package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sonarbridge/sonarbridge/internal/config"
)

// openPaths are served without authentication.
var openPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Auth creates a middleware that checks the inbound API key. When no key
// is configured the API is open and the middleware passes everything
// through.
func Auth(cfg *config.AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		if cfg == nil || cfg.APIKey == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]map[string]string{
					"error": {
						"message": "invalid or missing API key",
						"type":    "authentication_error",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return r.Header.Get("X-Api-Key")
}
