package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"picprompter/internal/domain"
	"picprompter/internal/infra"
	"picprompter/internal/kvcache"
)

var (
	// ErrCredentialsRequired is returned when email or password is blank.
	ErrCredentialsRequired = fmt.Errorf("%w: email and password are required", domain.ErrValidation)
	// ErrSessionInvalid covers unknown, expired and revoked tokens.
	ErrSessionInvalid = fmt.Errorf("%w: session is not valid", domain.ErrUnauthorized)
)

// Session is a signed-in user plus the token that proves it.
type Session struct {
	Token     string      `json:"token"`
	User      domain.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Provider is the identity capability behind the gate. A real identity
// service can replace MockProvider without touching gating logic.
type Provider interface {
	Login(ctx context.Context, email, password string) (Session, error)
	LoginWithGoogle(ctx context.Context, idToken string) (Session, error)
	Register(ctx context.Context, email, password, name string) (Session, error)
	Logout(ctx context.Context, token string) error
	CurrentSession(ctx context.Context, token string) (Session, error)
}

// Demo identity used for Google sign-in when no verifier is configured.
const (
	mockGoogleEmail = "user@example.com"
	mockGoogleName  = "Example User"
	mockGooglePhoto = "https://via.placeholder.com/150"
)

// MockProvider accepts any non-empty email and password. User records and
// revoked token ids live in a kvcache.Store; sessions are signed tokens.
type MockProvider struct {
	store  kvcache.Store
	signer *Signer
	google GoogleTokenVerifier
	logger *infra.Logger
	now    func() time.Time
}

// MockOption tunes a MockProvider.
type MockOption func(*MockProvider)

// WithGoogleVerifier makes LoginWithGoogle verify real ID tokens.
func WithGoogleVerifier(v GoogleTokenVerifier) MockOption {
	return func(p *MockProvider) { p.google = v }
}

// WithLogger attaches a logger.
func WithLogger(l *infra.Logger) MockOption {
	return func(p *MockProvider) { p.logger = l }
}

// NewMockProvider wires the provider onto store and signer.
func NewMockProvider(store kvcache.Store, signer *Signer, opts ...MockOption) *MockProvider {
	p := &MockProvider{
		store:  store,
		signer: signer,
		logger: infra.DiscardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MockProvider) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return Session{}, ErrCredentialsRequired
	}
	user, err := p.findByEmail(ctx, email)
	if errors.Is(err, kvcache.ErrNotFound) {
		user, err = p.createUser(ctx, domain.User{Email: email, Name: nameFromEmail(email)})
	}
	if err != nil {
		return Session{}, err
	}
	p.logger.Info().Str("user_id", user.ID).Msg("auth: login")
	return p.issue(user)
}

// LoginWithGoogle verifies idToken when a verifier is configured; otherwise
// it signs in the demo Google account.
func (p *MockProvider) LoginWithGoogle(ctx context.Context, idToken string) (Session, error) {
	profile := GoogleProfile{Subject: "demo", Email: mockGoogleEmail, Name: mockGoogleName, Picture: mockGooglePhoto}
	if p.google != nil {
		verified, err := p.google.VerifyIDToken(ctx, idToken)
		if err != nil {
			p.logger.Warn().Err(err).Msg("auth: google token rejected")
			return Session{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
		}
		profile = verified
	}
	email := normalizeEmail(profile.Email)
	user, err := p.findByEmail(ctx, email)
	switch {
	case errors.Is(err, kvcache.ErrNotFound):
		user, err = p.createUser(ctx, domain.User{Email: email, Name: profile.Name, PhotoURL: profile.Picture})
	case err == nil:
		user.Name = firstNonEmpty(profile.Name, user.Name)
		user.PhotoURL = firstNonEmpty(profile.Picture, user.PhotoURL)
		err = p.saveUser(ctx, user)
	}
	if err != nil {
		return Session{}, err
	}
	p.logger.Info().Str("user_id", user.ID).Msg("auth: google login")
	return p.issue(user)
}

func (p *MockProvider) Register(ctx context.Context, email, password, name string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return Session{}, ErrCredentialsRequired
	}
	name = strings.TrimSpace(name)
	user, err := p.findByEmail(ctx, email)
	switch {
	case errors.Is(err, kvcache.ErrNotFound):
		if name == "" {
			name = nameFromEmail(email)
		}
		user, err = p.createUser(ctx, domain.User{Email: email, Name: name})
	case err == nil && name != "":
		user.Name = name
		err = p.saveUser(ctx, user)
	}
	if err != nil {
		return Session{}, err
	}
	p.logger.Info().Str("user_id", user.ID).Msg("auth: register")
	return p.issue(user)
}

// Logout revokes the token. Unknown or already revoked tokens are not an
// error.
func (p *MockProvider) Logout(ctx context.Context, token string) error {
	claims, err := p.signer.Verify(token)
	if err != nil {
		return nil
	}
	// The marker only has to outlive the token itself.
	ttl := claims.ExpiresAt().Sub(p.now()) + time.Minute
	if err := kvcache.SetWithTTL(ctx, p.store, revokedKey(claims.ID), claims.ExpiresAt().UTC().Format(time.RFC3339), ttl); err != nil {
		return fmt.Errorf("auth: revoke session: %w", err)
	}
	p.logger.Info().Str("user_id", claims.Sub).Msg("auth: logout")
	return nil
}

func (p *MockProvider) CurrentSession(ctx context.Context, token string) (Session, error) {
	if strings.TrimSpace(token) == "" {
		return Session{}, ErrSessionInvalid
	}
	claims, err := p.signer.Verify(token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if _, err := p.store.Get(ctx, revokedKey(claims.ID)); err == nil {
		return Session{}, fmt.Errorf("%w: revoked", ErrSessionInvalid)
	} else if !errors.Is(err, kvcache.ErrNotFound) {
		return Session{}, err
	}
	user, err := p.loadUser(ctx, userKey(claims.Sub))
	if err != nil {
		if errors.Is(err, kvcache.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: unknown user", ErrSessionInvalid)
		}
		return Session{}, err
	}
	return Session{Token: token, User: user, ExpiresAt: claims.ExpiresAt()}, nil
}

func (p *MockProvider) issue(user domain.User) (Session, error) {
	token, claims, err := p.signer.Sign(user.ID, user.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: user, ExpiresAt: claims.ExpiresAt()}, nil
}

func (p *MockProvider) createUser(ctx context.Context, user domain.User) (domain.User, error) {
	user.ID = "user-" + uuid.NewString()
	user.CreatedAt = p.now().UTC()
	if err := p.saveUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	if err := p.store.Set(ctx, emailKey(user.Email), user.ID); err != nil {
		return domain.User{}, fmt.Errorf("auth: index user: %w", err)
	}
	return user, nil
}

func (p *MockProvider) saveUser(ctx context.Context, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("auth: encode user: %w", err)
	}
	if err := p.store.Set(ctx, userKey(user.ID), string(raw)); err != nil {
		return fmt.Errorf("auth: save user: %w", err)
	}
	return nil
}

func (p *MockProvider) findByEmail(ctx context.Context, email string) (domain.User, error) {
	id, err := p.store.Get(ctx, emailKey(email))
	if err != nil {
		return domain.User{}, err
	}
	return p.loadUser(ctx, userKey(id))
}

func (p *MockProvider) loadUser(ctx context.Context, key string) (domain.User, error) {
	raw, err := p.store.Get(ctx, key)
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return domain.User{}, fmt.Errorf("auth: decode user: %w", err)
	}
	return user, nil
}

func userKey(id string) string {
	return "users/" + id
}

func emailKey(email string) string {
	return "emails/" + email
}

func revokedKey(jti string) string {
	return "revoked/" + jti
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// nameFromEmail turns "jane.doe@example.com" into "Jane Doe".
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ", "+", " ").Replace(local)
	return cases.Title(language.Und).String(strings.Join(strings.Fields(local), " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ Provider = (*MockProvider)(nil)
