package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mysterybooks/storefront/internal/platform/httpx"
)

// RouteRegistrar mounts one group of routes.
type RouteRegistrar func(r chi.Router)

type middlewareChain []func(http.Handler) http.Handler

func (c middlewareChain) applyTo(r chi.Router) {
	for _, mw := range c {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// group is a registrar plus the middleware only its routes run.
type group struct {
	register RouteRegistrar
	chain    middlewareChain
}

type routerConfig struct {
	global      middlewareChain
	health      *HealthHandlers
	corsOrigins []string

	api        group
	admin      RouteRegistrar
	storefront group
}

// Option customises NewRouter.
type Option func(*routerConfig)

const (
	requestTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter serves /healthz and /readyz, the JSON API (with /admin nested under it) behind CORS,
// and the HTML storefront. Unknown routes answer with the JSON error envelope.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: middlewareChain{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
			middleware.Compress(5),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.global.applyTo(r)
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Group(func(api chi.Router) {
		api.Use(apiCORS(cfg.corsOrigins))
		cfg.api.chain.applyTo(api)
		if cfg.api.register != nil {
			cfg.api.register(api)
		}
		if cfg.admin != nil {
			api.Route("/admin", func(admin chi.Router) { cfg.admin(admin) })
		}
	})

	if cfg.storefront.register != nil {
		r.Group(func(site chi.Router) {
			cfg.storefront.chain.applyTo(site)
			cfg.storefront.register(site)
		})
	}
	return r
}

func apiCORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-Idempotent-Replay"},
		MaxAge:         300,
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+r.URL.Path, http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed",
		r.Method+" is not allowed on "+r.URL.Path, http.StatusMethodNotAllowed))
}

// WithMiddlewares appends middleware every route runs, after request id, real ip, timeout and
// compression.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCORSOrigins restricts the JSON API to the given origins. None means any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(cfg *routerConfig) { cfg.corsOrigins = append(cfg.corsOrigins, origins...) }
}

// WithAPIRoutes sets the JSON endpoints and middleware that wraps only them.
func WithAPIRoutes(reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.api.register = reg
		cfg.api.chain = append(cfg.api.chain, mw...)
	}
}

// WithAdminRoutes mounts reg under /admin, inside the API group.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.admin = reg }
}

// WithStorefrontRoutes sets the HTML pages and middleware (sessions, CSRF) that wraps only them.
func WithStorefrontRoutes(reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.storefront.register = reg
		cfg.storefront.chain = append(cfg.storefront.chain, mw...)
	}
}
