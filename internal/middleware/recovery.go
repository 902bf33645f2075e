package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/the-pines/frog/internal/httputil"
	"github.com/the-pines/frog/pkg/logger"
)

// Recovery converts handler panics into the opaque 500 body.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic": fmt.Sprint(rec),
						"stack": string(debug.Stack()),
						"path":  r.URL.Path,
					}).Error("handler panicked")
					httputil.InternalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
