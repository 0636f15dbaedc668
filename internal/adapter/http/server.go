package adapthttp

import (
	"context"
	"net/http"
	"time"

	"weatherdash/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Config holds the HTTP adapter settings.
type Config struct {
	// SessionSecret signs the session cookie.
	SessionSecret []byte
	// Production marks cookies Secure and hides error detail.
	Production     bool
	RequestTimeout time.Duration
	// RateLimit guards /api. A zero Max disables rate limiting.
	RateLimit RateLimit
	// SSO enables /auth/sso when set.
	SSO *OIDCConfig
	// Health reports backing store health for /healthz.
	Health func(ctx context.Context) error
	Logger *zap.Logger
}

// RateLimit allows Max requests per Window for each client address.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	auth   *app.AuthService
	search *app.SearchService
	cfg    Config
	log    *zap.Logger
	views  *views
	now    func() time.Time
}

// New creates a Server wired to the given application services.
func New(auth *app.AuthService, search *app.SearchService, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		auth:   auth,
		search: search,
		cfg:    cfg,
		log:    log,
		views:  mustParseViews(),
		now:    time.Now,
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(securityHeaders)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(s.resolveSession)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/static/*", staticHandler())
	r.Get("/", s.handleRoot)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAnonymous)
			r.Get("/login", s.handleLoginPage)
			r.Post("/login", s.handleLogin)
			r.Get("/register", s.handleRegisterPage)
			r.Post("/register", s.handleRegister)
		})
		r.Get("/logout", s.handleLogout)
		r.Post("/logout", s.handleLogout)
		r.Get("/sso/login", s.handleSSOLogin)
		r.Get("/sso/callback", s.handleSSOCallback)
	})

	r.With(s.requireAuthenticated).Get("/dashboard", s.handleDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Use(withNoCache)
		if s.cfg.RateLimit.Max > 0 && s.cfg.RateLimit.Window > 0 {
			r.Use(rateLimit(s.cfg.RateLimit.Max, s.cfg.RateLimit.Window))
		}
		r.Use(s.requireAPIAuth)
		r.Get("/search", s.handleSearch)
		r.Get("/history", s.handleHistory)
		r.Get("/weather/{city}", s.handleWeather)
	})

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		if isAPI(r) {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}
