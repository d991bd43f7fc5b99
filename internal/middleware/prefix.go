package middleware

import (
	"net/http"
	"strings"
)

// StripPrefix serves requests under prefix as if the prefix were absent, so
// /api/v1/analyze and /analyze reach the same route with the same auth and
// rate-limit rules. Paths outside the prefix pass through untouched.
func StripPrefix(prefix string) func(http.Handler) http.Handler {
	prefix = "/" + strings.Trim(prefix, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path != prefix && !strings.HasPrefix(path, prefix+"/") {
				r.Header.Del("X-Forwarded-Prefix")
				next.ServeHTTP(w, r)
				return
			}

			stripped := strings.TrimPrefix(path, prefix)
			if stripped == "" {
				stripped = "/"
			}

			r2 := r.Clone(r.Context())
			r2.URL.Path = stripped
			r2.URL.RawPath = ""
			r2.RequestURI = r2.URL.RequestURI()
			r2.Header.Set("X-Forwarded-Prefix", prefix)
			next.ServeHTTP(w, r2)
		})
	}
}
