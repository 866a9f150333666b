package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/security"
	"github.com/username/opsledger/src/utils"
	"golang.org/x/time/rate"
)

type contextKey string

const userIDContextKey contextKey = "userID"

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

// AuthMiddleware admits requests carrying a valid bearer token and stores the
// token's user id in the request context.
func AuthMiddleware(authService *security.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.L.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
				utils.SendJSONError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if tokenString == "" {
				logger.L.Debug("AuthMiddleware: Token string empty", "path", r.URL.Path)
				utils.SendJSONError(w, "Malformed token", http.StatusUnauthorized)
				return
			}

			userID, err := authService.ValidateToken(tokenString)
			if err != nil {
				logger.L.Warn("AuthMiddleware: Token validation failed", "path", r.URL.Path, "error", err)
				utils.SendJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.L.Warn("Rate limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"remoteAddr", r.RemoteAddr)
				utils.SendJSONError(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
