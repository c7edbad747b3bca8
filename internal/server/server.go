// Package server exposes the shell host over HTTP: authentication,
// module lifecycle, route resolution, the embedded-frame page for
// remote modules, and the websocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/microshell/shell_host/internal/authstate"
	"github.com/microshell/shell_host/internal/config"
	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/logging"
	"github.com/microshell/shell_host/internal/metrics"
	"github.com/microshell/shell_host/internal/middleware"
	"github.com/microshell/shell_host/internal/registry"
	"github.com/microshell/shell_host/internal/router"
)

// Server is the shell host's HTTP surface.
type Server struct {
	cfg        *config.Config
	bus        *events.Bus
	auth       *authstate.Synchronizer
	issuer     *middleware.TokenIssuer
	registry   *registry.Registry
	loader     *registry.Loader
	aggregator *router.Aggregator
	container  *container.Container
	hub        *Hub
	log        *logging.Logger

	httpServer  *http.Server
	stopCleanup func()
	startedAt   time.Time
}

// Deps bundles the services the server exposes.
type Deps struct {
	Config     *config.Config
	Bus        *events.Bus
	Auth       *authstate.Synchronizer
	Registry   *registry.Registry
	Loader     *registry.Loader
	Aggregator *router.Aggregator
	Container  *container.Container
	Logger     *logging.Logger
}

// New creates the server and assembles its routes.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logging.New("server")
	}
	s := &Server{
		cfg:        deps.Config,
		bus:        deps.Bus,
		auth:       deps.Auth,
		issuer:     middleware.NewTokenIssuer(deps.Config.Auth.JWTSecret, deps.Config.Auth.TokenTTL.Std()),
		registry:   deps.Registry,
		loader:     deps.Loader,
		aggregator: deps.Aggregator,
		container:  deps.Container,
		log:        log,
		startedAt:  time.Now(),
	}
	s.hub = NewHub(deps.Bus, deps.Auth, log)

	s.httpServer = &http.Server{
		Addr:         deps.Config.Server.Addr,
		Handler:      s.routes(),
		ReadTimeout:  deps.Config.Server.ReadTimeout.Std(),
		WriteTimeout: deps.Config.Server.WriteTimeout.Std(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Tracing(s.log))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(func(next http.Handler) http.Handler { return metrics.InstrumentHandler(next) })

	// /events/ws validates its token itself so browsers can pass it as
	// a query parameter.
	auth := middleware.NewAuthMiddleware(s.issuer, s.log, []string{
		"/healthz",
		"/metrics",
		"/api/auth/login",
		"/events/ws",
		"/frame/",
	})
	r.Use(auth.Handler)

	if s.cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			s.cfg.RateLimit.RequestsPerWindow,
			s.cfg.RateLimit.Window.Std(),
			s.log,
		)
		s.stopCleanup = limiter.StartCleanup(5 * time.Minute)
		r.Use(limiter.Handler)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/me", s.handleMe)

		r.Get("/modules", s.handleListModules)
		r.Post("/modules/preload", s.handlePreload)
		r.Post("/modules/{name}/load", s.handleLoadModule)
		r.Delete("/modules/{name}", s.handleUnloadModule)

		r.Get("/routes", s.handleListRoutes)
		r.Get("/routes/menu", s.handleMenuRoutes)
		r.Get("/routes/resolve", s.handleResolveRoute)
	})

	r.Get("/events/ws", s.handleEventStream)
	r.Get("/frame/*", s.handleFrame)

	return r
}

// Start runs the HTTP listener until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("shell host listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	s.hub.Close()
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the assembled routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
