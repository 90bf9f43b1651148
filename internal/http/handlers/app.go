package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/editor"
	"picprompter/internal/infra"
	"picprompter/internal/infra/safehttp"
	"picprompter/internal/kvcache"
	"picprompter/internal/middleware"
)

// StatusClientClosedRequest reports a request the caller abandoned.
const StatusClientClosedRequest = 499

const (
	archiveFetchTimeout = 30 * time.Second
	defaultSeedTTL      = time.Hour
)

// App carries the dependencies shared by every handler.
type App struct {
	Config     *infra.Config
	Logger     *infra.Logger
	Gate       *auth.Gate
	Editor     *editor.Orchestrator
	Sessions   *editor.Registry
	KV         kvcache.Store
	// HTTPClient downloads remote versions for archives. It must refuse
	// internal addresses; see UseGuard.
	HTTPClient *http.Client
}

// NewApp fills in defaults for optional dependencies.
func NewApp(cfg *infra.Config, logger *infra.Logger, gate *auth.Gate, orch *editor.Orchestrator, sessions *editor.Registry, kv kvcache.Store) *App {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	if sessions == nil {
		sessions = editor.NewRegistry()
	}
	if kv == nil {
		kv = kvcache.NewMemory()
	}
	return &App{
		Config:     cfg,
		Logger:     logger,
		Gate:       gate,
		Editor:     orch,
		Sessions:   sessions,
		KV:         kv,
		HTTPClient: safehttp.NewGuard().Client(archiveFetchTimeout),
	}
}

// UseGuard makes archive downloads follow guard, which trusts the object
// store's own origin.
func (a *App) UseGuard(guard *safehttp.Guard) {
	a.HTTPClient = guard.Client(archiveFetchTimeout)
}

type errorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Intent  *auth.Intent `json:"intent,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

// log returns the request-scoped logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.Logger
}

// fail maps a core error onto the HTTP error contract.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var failure *domain.GenerationFailure
	switch {
	case errors.As(err, &failure):
		code := http.StatusUnprocessableEntity
		if failure.Kind == domain.FailureTransportError {
			code = http.StatusBadGateway
		}
		a.error(w, code, string(failure.Kind), failure.Message)
	case errors.Is(err, domain.ErrBusy):
		a.error(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, domain.ErrCanceled):
		a.error(w, StatusClientClosedRequest, "canceled", err.Error())
	case errors.Is(err, domain.ErrHistoryLoaded):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "auth_required", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// requireUser runs intent through the auth gate and answers 401 with the
// intent echoed when the caller is not signed in.
func (a *App) requireUser(w http.ResponseWriter, r *http.Request, intent auth.Intent) (domain.User, bool) {
	token := auth.TokenFromContext(r.Context())
	if token == "" {
		token = middleware.BearerToken(r)
	}
	out := a.Gate.RequireAuth(r.Context(), token, intent)
	if !out.Allowed {
		a.json(w, http.StatusUnauthorized, errorResponse{
			Error:   "auth_required",
			Message: out.Reason,
			Intent:  &out.Intent,
		})
		return domain.User{}, false
	}
	return out.User, true
}

// decode reads a JSON body; an empty body leaves v untouched.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

// userKV scopes the shared cache to one user.
func (a *App) userKV(user domain.User) kvcache.Store {
	return kvcache.WithNamespace(a.KV, "user:"+user.ID)
}

// seedTTL keeps a cached seed image as long as an idle session would live.
func (a *App) seedTTL() time.Duration {
	if a.Config != nil && a.Config.SessionIdleTTL > 0 {
		return a.Config.SessionIdleTTL
	}
	return defaultSeedTTL
}
