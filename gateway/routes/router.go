package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"intentlend/gateway/middleware"
)

type Config struct {
	Engine        Engine
	Hub           *Hub
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	// WriteScopes are required on every mutating route when auth is enabled.
	WriteScopes []string
	// ReadScopes are required on query routes.
	ReadScopes     []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errNoEngine
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Handle("/healthz", health)
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	lr := newLendingRoutes(cfg.Engine, cfg.RequestTimeout)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(g chi.Router) {
			use(g, cfg, "lending.write", "lending", cfg.WriteScopes)
			lr.mountWrites(g)
		})
		v1.Group(func(g chi.Router) {
			use(g, cfg, "lending.read", "queries", cfg.ReadScopes)
			lr.mountReads(g)
		})
		if cfg.Hub != nil {
			v1.Group(func(g chi.Router) {
				if cfg.Authenticator != nil {
					g.Use(cfg.Authenticator.Middleware(cfg.ReadScopes...))
				}
				g.Handle("/stream", cfg.Hub)
			})
		}
	})
	return r, nil
}

// use installs the per-group middleware chain. Authentication runs before
// rate limiting so limits can key on the caller.
func use(g chi.Router, cfg Config, route, limitKey string, scopes []string) {
	if cfg.Authenticator != nil {
		g.Use(cfg.Authenticator.Middleware(scopes...))
	}
	if cfg.RateLimiter != nil {
		g.Use(cfg.RateLimiter.Middleware(limitKey))
	}
	if cfg.Observability != nil {
		g.Use(cfg.Observability.Middleware(route))
	}
}
