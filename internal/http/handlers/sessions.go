package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/editor"
	"picprompter/internal/kvcache"
	"picprompter/internal/middleware"
)

type createSessionRequest struct {
	ImageRef string `json:"image_ref"`
}

type editRequest struct {
	Prompt string `json:"prompt"`
}

type selectRequest struct {
	Index *int `json:"index"`
}

type versionResponse struct {
	Version domain.ImageVersion `json:"version"`
	Session editor.State        `json:"session"`
}

type selectResponse struct {
	Moved   bool         `json:"moved"`
	Session editor.State `json:"session"`
}

type cancelResponse struct {
	Canceled bool         `json:"canceled"`
	Session  editor.State `json:"session"`
}

// CreateSession opens an editing session on image_ref, or on the cached
// seed image when the body names none.
func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, ok := a.requireUser(w, r, auth.Intent{Action: "open_editor"})
	if !ok {
		return
	}
	ref := strings.TrimSpace(req.ImageRef)
	if ref == "" {
		cached, err := a.userKV(user).Get(r.Context(), kvcache.KeyEditImage)
		if err != nil && !errors.Is(err, kvcache.ErrNotFound) {
			a.fail(w, r, err)
			return
		}
		ref = cached
	}
	session := a.Sessions.Create(user.ID, middleware.LocaleFromContext(r.Context()))
	if ref != "" {
		if _, err := a.Editor.Seed(session, ref); err != nil {
			a.Sessions.Delete(session.ID, user.ID)
			a.fail(w, r, err)
			return
		}
	}
	a.log(r).Info().Str("session_id", session.ID).Bool("seeded", ref != "").Msg("sessions: created")
	a.json(w, http.StatusCreated, session.State())
}

type sessionListResponse struct {
	Sessions []editor.State `json:"sessions"`
}

// ListSessions returns the caller's open sessions, oldest first.
func (a *App) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireUser(w, r, auth.Intent{Action: "list_sessions"})
	if !ok {
		return
	}
	owned := a.Sessions.List(user.ID)
	out := sessionListResponse{Sessions: make([]editor.State, 0, len(owned))}
	for _, s := range owned {
		out.Sessions = append(out.Sessions, s.State())
	}
	a.json(w, http.StatusOK, out)
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r, auth.Intent{Action: "view_session"})
	if !ok {
		return
	}
	a.json(w, http.StatusOK, session.State())
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireUser(w, r, auth.Intent{Action: "delete_session", Target: chi.URLParam(r, "id")})
	if !ok {
		return
	}
	if !a.Sessions.Delete(chi.URLParam(r, "id"), user.ID) {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) SessionGenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, ok := a.session(w, r, auth.Intent{Action: "generate", Target: req.Prompt})
	if !ok {
		return
	}
	v, err := a.Editor.Generate(r.Context(), session, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, versionResponse{Version: v, Session: session.State()})
}

func (a *App) SessionEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, ok := a.session(w, r, auth.Intent{Action: "edit", Target: req.Prompt})
	if !ok {
		return
	}
	v, err := a.Editor.Edit(r.Context(), session, req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, versionResponse{Version: v, Session: session.State()})
}

func (a *App) SessionSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		a.fail(w, r, fmt.Errorf("%w: index is required", domain.ErrValidation))
		return
	}
	session, ok := a.session(w, r, auth.Intent{Action: "select_version"})
	if !ok {
		return
	}
	moved := session.Select(*req.Index)
	a.json(w, http.StatusOK, selectResponse{Moved: moved, Session: session.State()})
}

func (a *App) SessionOriginal(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r, auth.Intent{Action: "view_original"})
	if !ok {
		return
	}
	moved := session.ViewOriginal()
	a.json(w, http.StatusOK, selectResponse{Moved: moved, Session: session.State()})
}

func (a *App) SessionCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r, auth.Intent{Action: "cancel"})
	if !ok {
		return
	}
	canceled := a.Editor.Cancel(session)
	a.json(w, http.StatusOK, cancelResponse{Canceled: canceled, Session: session.State()})
}

// session gates intent and loads the session named in the path for the
// signed-in user.
func (a *App) session(w http.ResponseWriter, r *http.Request, intent auth.Intent) (*editor.Session, bool) {
	user, ok := a.requireUser(w, r, intent)
	if !ok {
		return nil, false
	}
	session, err := a.Sessions.Get(chi.URLParam(r, "id"), user.ID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	return session, true
}
