package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"picprompter/internal/auth"
)

// Authenticate resolves a bearer token into the signed-in user. It never
// rejects a request; handlers decide through the gate whether the action
// needs a session.
func Authenticate(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := auth.WithToken(r.Context(), token)
			if session, err := gate.Provider().CurrentSession(ctx, token); err == nil {
				ctx = auth.WithUser(ctx, session.User)
				log := zerolog.Ctx(ctx).With().Str("user_id", session.User.ID).Logger()
				ctx = log.WithContext(ctx)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
