package auth

import (
	"context"

	"picprompter/internal/domain"
)

// Intent names the action a caller tried before being asked to sign in, so
// the UI can retry it afterwards.
type Intent struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

// Outcome is the gate's verdict.
type Outcome struct {
	Allowed bool
	User    domain.User
	Intent  Intent
	Reason  string
}

// Gate guards actions that need a signed-in session.
type Gate struct {
	provider Provider
}

// NewGate builds a gate over provider.
func NewGate(provider Provider) *Gate {
	return &Gate{provider: provider}
}

// Provider exposes the underlying identity capability.
func (g *Gate) Provider() Provider {
	return g.provider
}

// RequireAuth allows intent when token names a live session, and otherwise
// reports that authentication is required, echoing the intent.
func (g *Gate) RequireAuth(ctx context.Context, token string, intent Intent) Outcome {
	if user, ok := UserFromContext(ctx); ok {
		return Outcome{Allowed: true, User: user, Intent: intent}
	}
	session, err := g.provider.CurrentSession(ctx, token)
	if err != nil {
		return Outcome{Intent: intent, Reason: "authentication required"}
	}
	return Outcome{Allowed: true, User: session.User, Intent: intent}
}

type userContextKey struct{}
type tokenContextKey struct{}

// WithUser stores the signed-in user on ctx.
func WithUser(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the signed-in user, if any.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(domain.User)
	if !ok || user.ID == "" {
		return domain.User{}, false
	}
	return user, true
}

// WithToken stores the raw session token on ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the raw session token, if any.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}
