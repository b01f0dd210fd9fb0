package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const UserContextKey contextKey = "user"

// Middleware handles authentication for protected routes
type Middleware struct {
	jwtManager *JWTManager
	limiter    *FailureLimiter
	clientIP   func(r *http.Request) string
}

// NewMiddleware creates new auth middleware. clientIP identifies callers
// for the failure limiter.
func NewMiddleware(jwtManager *JWTManager, clientIP func(r *http.Request) string) *Middleware {
	return &Middleware{
		jwtManager: jwtManager,
		limiter:    NewFailureLimiter(),
		clientIP:   clientIP,
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth middleware checks for a valid bearer token
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.clientIP(r)
		if blocked, remaining := m.limiter.Blocked(ip); blocked {
			w.Header().Set("Retry-After", strconv.Itoa(remaining))
			http.Error(w, "Too many failed attempts", http.StatusTooManyRequests)
			return
		}

		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Validate token
		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			m.limiter.RecordFailure(ip)
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		m.limiter.Reset(ip)

		next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), claims.User())))
	})
}

// RequireAdmin middleware checks for admin role
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		if user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !user.IsAdmin() {
			http.Error(w, "Forbidden: admin access required", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext extracts user from request context
func GetUserFromContext(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// SetUserContext adds user to context
func SetUserContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
