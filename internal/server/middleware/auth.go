package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/auth"
)

// Auth requires a valid HS256 token for workspace. Browsers cannot set
// headers on websocket upgrades, so a `token` query parameter is accepted
// as well as a Bearer header. An empty secret disables the check.
func Auth(secret, workspace string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				tok = r.URL.Query().Get("token")
			}
			if tok == "" {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing credentials"}`, http.StatusUnauthorized)
				return
			}

			claims, err := auth.ValidateWorkspaceToken(secret, workspace, tok)
			if err != nil {
				log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("auth: rejected token")
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyWorkspace, workspace)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}
