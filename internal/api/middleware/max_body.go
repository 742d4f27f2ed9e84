package middleware

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/medindex/internal/api"
)

// MaxBodyBytes caps request bodies, which bounds the size of a submitted
// document. Declared oversize bodies are rejected up front; bodies of unknown
// length fail when the handler reads past the limit.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds the %d byte limit", limit))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
