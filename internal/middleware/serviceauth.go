// Package middleware provides HTTP middleware for the service layer.
package middleware

import (
	"context"
	"net/http"

	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/httputil"
	"github.com/the-pines/frog/internal/serviceauth"
	"github.com/the-pines/frog/pkg/logger"
)

type contextKey string

const serviceIDKey contextKey = "service_id"

// ServiceAuthMiddleware requires a valid X-Service-Token on the routes it
// wraps. With an empty secret it is a pass-through, which keeps local
// development usable without token plumbing.
type ServiceAuthMiddleware struct {
	secret          []byte
	allowedServices map[string]bool
	logger          *logger.Logger
}

// ServiceAuthConfig configures the service authentication middleware.
type ServiceAuthConfig struct {
	Secret          []byte
	AllowedServices []string
	Logger          *logger.Logger
}

// NewServiceAuthMiddleware creates a new service authentication middleware.
func NewServiceAuthMiddleware(cfg ServiceAuthConfig) *ServiceAuthMiddleware {
	allowed := make(map[string]bool, len(cfg.AllowedServices))
	for _, svc := range cfg.AllowedServices {
		allowed[svc] = true
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("serviceauth")
	}
	return &ServiceAuthMiddleware{secret: cfg.Secret, allowedServices: allowed, logger: log}
}

// Enabled reports whether tokens are enforced.
func (m *ServiceAuthMiddleware) Enabled() bool { return len(m.secret) > 0 }

// Handler returns the middleware handler function.
func (m *ServiceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(serviceauth.ServiceTokenHeader)
		if token == "" {
			m.reject(w, r, errors.Unauthorized("Missing service token"), nil)
			return
		}

		claims, err := serviceauth.ParseToken(m.secret, token)
		if err != nil {
			m.reject(w, r, errors.InvalidToken(err), err)
			return
		}

		if len(m.allowedServices) > 0 && !m.allowedServices[claims.ServiceID] {
			m.reject(w, r, errors.Forbidden("Service not authorized"), nil)
			return
		}

		ctx := context.WithValue(r.Context(), serviceIDKey, claims.ServiceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ServiceAuthMiddleware) reject(w http.ResponseWriter, r *http.Request, se *errors.ServiceError, cause error) {
	fields := map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": se.HTTPStatus,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	m.logger.LogSecurityEvent(r.Context(), "service_token_rejected", fields)
	httputil.WriteServiceError(w, se)
}

// GetServiceID extracts the authenticated service id from ctx.
func GetServiceID(ctx context.Context) string {
	if v, ok := ctx.Value(serviceIDKey).(string); ok {
		return v
	}
	return ""
}
