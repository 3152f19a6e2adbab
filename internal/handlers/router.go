package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jfbeehive/swift-checkout/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar attaches one group of endpoints to its sub-router.
type RouteRegistrar func(r chi.Router)

type middlewares = []func(http.Handler) http.Handler

// routeGroup is a mount point under /api/v1. Groups without a registrar answer 501.
type routeGroup struct {
	path      string
	label     string
	register  RouteRegistrar
	wrappedBy middlewares
}

type router struct {
	global   middlewares
	health   *HealthHandlers
	sessions routeGroup
	catalog  routeGroup
	address  routeGroup
}

// Option configures NewRouter.
type Option func(*router)

// NewRouter wires the health probes and the checkout groups behind request id, real ip and
// timeout middleware.
func NewRouter(opts ...Option) chi.Router {
	cfg := &router{
		global:   middlewares{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		sessions: routeGroup{path: "/sessions", label: "sessions"},
		catalog:  routeGroup{path: "/catalog", label: "catalog"},
		address:  routeGroup{path: "/address-lookup", label: "address lookup"},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.global)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "route_not_found", "no route for "+req.URL.Path, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "method_not_allowed", req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, group := range []routeGroup{cfg.sessions, cfg.catalog, cfg.address} {
			api.Route(group.path, group.mount)
		}
	})
	return r
}

func (g routeGroup) mount(r chi.Router) {
	use(r, g.wrappedBy)
	if g.register != nil {
		g.register(r)
		return
	}
	notImplemented := func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "not_implemented", g.label+" routes not implemented", http.StatusNotImplemented)
	}
	r.HandleFunc("/", notImplemented)
	r.HandleFunc("/*", notImplemented)
	r.NotFound(notImplemented)
	r.MethodNotAllowed(notImplemented)
}

func use(r chi.Router, mws middlewares) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func writeRouteError(w http.ResponseWriter, req *http.Request, code, message string, status int) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, message, status))
}

// WithMiddlewares appends router-wide middleware after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(r *router) { r.global = append(r.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(r *router) { r.health = h }
}

func WithSessionRoutes(reg RouteRegistrar) Option {
	return func(r *router) { r.sessions.register = reg }
}

// WithSessionMiddlewares wraps every /sessions endpoint.
func WithSessionMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(r *router) { r.sessions.wrappedBy = append(r.sessions.wrappedBy, mw...) }
}

func WithCatalogRoutes(reg RouteRegistrar) Option {
	return func(r *router) { r.catalog.register = reg }
}

// WithAddressRoutes mounts the postal code lookup.
func WithAddressRoutes(reg RouteRegistrar) Option {
	return func(r *router) { r.address.register = reg }
}
