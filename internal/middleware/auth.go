package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderUserID is set by the auth gateway in front of the service once the
// session has been verified. Requests reaching us without it are anonymous.
const HeaderUserID = "X-User-ID"

// Authenticate resolves the caller identity and rejects anonymous requests
// with 401 before any handler touches a document.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			slog.WarnContext(r.Context(), "unauthenticated request rejected", "path", r.URL.Path) // #nosec G706
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    "UNAUTHENTICATED",
					"message": "authentication required",
				},
				"correlationId": GetCorrelationID(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// UserID returns the authenticated caller, or "" when there is none.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserKey).(string); ok {
		return id
	}
	return ""
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserKey, id)
}
