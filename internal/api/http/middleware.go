package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"carrental-backend/internal/logger"
	"carrental-backend/internal/security"
)

type contextKey struct{}

// AuthMiddleware validates the bearer token and stores its claims in the
// request context.
func AuthMiddleware(tm security.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{Code: "UNAUTHENTICATED", Message: "authorization token is not provided"}})
				return
			}
			claims, err := tm.ValidateToken(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{Code: "UNAUTHENTICATED", Message: err.Error()}})
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	// Remove Bearer prefix if present
	if len(token) > 7 && strings.ToUpper(token[0:7]) == "BEARER " {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}

// ClaimsFromContext returns the caller set by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*security.UserClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*security.UserClaims)
	return claims, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs every request and turns handler panics into 500s.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Handler panicked", "method", r.Method, "path", r.URL.Path, "panic", p)
				http.Error(rec, "internal server error", http.StatusInternalServerError)
			}
			logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
		}()
		next.ServeHTTP(rec, r)
	})
}
