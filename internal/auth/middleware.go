package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey struct{}

var subjectKey contextKey

// SubjectFromContext returns the authenticated subject id, or 0 when the
// request carried no valid credentials.
func SubjectFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(subjectKey).(int64); ok {
		return v
	}
	return 0
}

// WithSubject injects a subject id into the context. Test helper.
func WithSubject(ctx context.Context, subject int64) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Middleware resolves the Authorization bearer key into a subject id. An
// absent or invalid key leaves the subject unset; handlers decide whether
// anonymous access is acceptable (the authz registry denies by default).
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if key, ok := strings.CutPrefix(header, "Bearer "); ok {
				subject, err := service.Authenticate(r.Context(), strings.TrimSpace(key))
				if err == nil {
					r = r.WithContext(WithSubject(r.Context(), subject))
				} else if logger != nil {
					logger.Debug("bearer key rejected", slog.Any("error", err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
