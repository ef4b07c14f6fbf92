package middleware

import (
	"net/http"

	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/internal/admins"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
)

// RequireAdmin rejects callers whose session email is not in admin_users. It
// must run after Auth.
func RequireAdmin(checker admins.Checker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			email := EmailFromContext(ctx)
			ok, err := checker.IsAdmin(ctx, email)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check admin"))
				return
			}
			if !ok {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{"event": "security.admin_denied", "path": r.URL.Path}), "admin access denied")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withAdmin(ctx, true)))
		})
	}
}

// ResolveAdmin records whether the caller is an admin without rejecting anyone.
// Lookup failures resolve to non-admin.
func ResolveAdmin(checker admins.Checker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ok, err := checker.IsAdmin(ctx, EmailFromContext(ctx))
			if err != nil && logg != nil {
				logg.Error(ctx, "admin.lookup_failed", err)
			}
			next.ServeHTTP(w, r.WithContext(withAdmin(ctx, ok && err == nil)))
		})
	}
}
