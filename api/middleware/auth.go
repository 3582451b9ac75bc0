package middleware

import (
	"net/http"
	"strings"

	"github.com/homerunhq/homerun-backend/api/responses"
	"github.com/homerunhq/homerun-backend/pkg/auth"
	"github.com/homerunhq/homerun-backend/pkg/config"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
)

// Auth parses the bearer token, validates the signature and issuer, and seeds
// the request context with the authenticated user id and actor role.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing authorization header"))
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "malformed authorization header"))
				return
			}

			claims, err := auth.ParseAccessToken(cfg, strings.TrimSpace(parts[1]))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token"))
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID)
			ctx = WithActorRole(ctx, claims.Role)
			ctx = logg.WithUserID(ctx, claims.UserID.String())
			ctx = logg.WithActorRole(ctx, claims.Role.String())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
