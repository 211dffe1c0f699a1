package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireUser resolves the authenticated caller from the X-User-ID header and
// stores it in the request context. Identity verification itself is the
// upstream gateway's job; this service only needs a stable UUID to scope jobs,
// templates, and credentials.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			slog.Warn("auth: missing user id",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			http.Error(w, `{"error":"missing X-User-ID header","code":"AUTH_MISSING_USER"}`, http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			slog.Warn("auth: malformed user id",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			http.Error(w, `{"error":"X-User-ID must be a UUID","code":"AUTH_BAD_USER"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user stored by RequireUser.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
