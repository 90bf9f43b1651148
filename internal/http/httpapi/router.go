package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"picprompter/internal/http/handlers"
	"picprompter/internal/middleware"
)

// Options carries router inputs that are not handler dependencies.
type Options struct {
	// Static serves the filesystem object store under /static.
	Static        http.Handler
	CountryLookup middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	defaultLocale := "en"
	var origins []string
	rateLimit := 0
	if app.Config != nil {
		defaultLocale = app.Config.DefaultLocale
		origins = app.Config.AllowedOrigins
		rateLimit = app.Config.RateLimitPerMin
	}

	r.Use(
		chimw.RealIP,
		middleware.RequestID(*app.Logger),
		chimw.Recoverer,
		middleware.CORS(origins),
		middleware.I18N(defaultLocale, opts.CountryLookup),
		middleware.Logger(*app.Logger),
		middleware.Authenticate(app.Gate),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", app.AuthRegister)
		r.Post("/login", app.AuthLogin)
		r.Post("/google", app.AuthGoogle)
		r.Post("/logout", app.AuthLogout)
		r.Get("/me", app.Me)
	})

	// Generation calls share one per-caller budget.
	limit := middleware.RateLimit(rateLimit, time.Minute)
	r.With(limit).Post("/v1/uploads", app.Uploads)
	r.With(limit).Post("/v1/images/generate", app.ImagesGenerate)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", app.ListSessions)
		r.Post("/", app.CreateSession)
		r.Get("/{id}", app.GetSession)
		r.Delete("/{id}", app.DeleteSession)
		r.With(limit).Post("/{id}/generate", app.SessionGenerate)
		r.With(limit).Post("/{id}/edit", app.SessionEdit)
		r.Post("/{id}/select", app.SessionSelect)
		r.Post("/{id}/original", app.SessionOriginal)
		r.Delete("/{id}/pending", app.SessionCancel)
		r.Get("/{id}/archive", app.SessionArchive)
	})

	if opts.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static", opts.Static))
	}

	return r
}
