package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/kvcache"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type userDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userDTO   `json:"user"`
}

func toUserDTO(u domain.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		DisplayName: u.DisplayName(),
		PhotoURL:    u.PhotoURL,
		CreatedAt:   u.CreatedAt,
	}
}

func (a *App) AuthRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.Gate.Provider().Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.signedIn(w, r, http.StatusCreated, session)
}

func (a *App) AuthLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.Gate.Provider().Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.signedIn(w, r, http.StatusOK, session)
}

func (a *App) AuthGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	session, err := a.Gate.Provider().LoginWithGoogle(ctx, req.IDToken)
	if err != nil {
		a.log(r).Warn().Err(err).Msg("auth: google sign-in rejected")
		a.fail(w, r, err)
		return
	}
	a.signedIn(w, r, http.StatusOK, session)
}

func (a *App) AuthLogout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())
	if user, ok := auth.UserFromContext(r.Context()); ok {
		_ = a.userKV(user).Delete(r.Context(), kvcache.KeyUser)
	}
	if token != "" {
		if err := a.Gate.Provider().Logout(r.Context(), token); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireUser(w, r, auth.Intent{Action: "profile"})
	if !ok {
		return
	}
	a.json(w, http.StatusOK, toUserDTO(user))
}

func (a *App) signedIn(w http.ResponseWriter, r *http.Request, code int, session auth.Session) {
	profile, _ := json.Marshal(toUserDTO(session.User))
	if err := kvcache.SetWithTTL(r.Context(), a.userKV(session.User), kvcache.KeyUser, string(profile), time.Until(session.ExpiresAt)); err != nil {
		a.log(r).Warn().Err(err).Msg("auth: cache user")
	}
	a.log(r).Info().Str("user_id", session.User.ID).Msg("auth: signed in")
	a.json(w, code, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      toUserDTO(session.User),
	})
}
