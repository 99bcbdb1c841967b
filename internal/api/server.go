package api

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/ipfilter"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/provider"
	"github.com/foxzi/herald/internal/ratelimit"
	"github.com/foxzi/herald/internal/sandbox"
	"github.com/foxzi/herald/internal/template"
)

// DriverLister lists registered drivers
type DriverLister interface {
	Drivers() []provider.Driver
}

// Options are the components served by the API. Sandbox, Limiter and
// Collector are optional.
type Options struct {
	Templates  template.Store
	Engine     *template.Engine
	Dispatcher *dispatch.Service
	Drivers    DriverLister
	Sandbox    *sandbox.Storage
	Limiter    *ratelimit.Limiter
	Collector  *metrics.Collector
	Version    string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.APIConfig
	templates  template.Store
	engine     *template.Engine
	dispatcher *dispatch.Service
	drivers    DriverLister
	sandbox    *sandbox.Storage
	limiter    *ratelimit.Limiter
	collector  *metrics.Collector
	ipFilter   *ipfilter.Filter
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.APIConfig, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	engine := opts.Engine
	if engine == nil {
		engine = template.NewEngine("")
	}

	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		templates:  opts.Templates,
		engine:     engine,
		dispatcher: opts.Dispatcher,
		drivers:    opts.Drivers,
		sandbox:    opts.Sandbox,
		limiter:    opts.Limiter,
		collector:  opts.Collector,
		ipFilter:   ipfilter.New(cfg.AllowedIPs, logger.With("component", "api_ipfilter")),
		version:    opts.Version,
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware(s.collector))

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		if s.ipFilter.Enabled() {
			r.Use(s.ipFilter.Middleware)
		}
		r.Use(s.authMiddleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{code}", s.handleGetTemplate)
			r.Put("/{code}", s.handleSaveTemplate)
			r.Delete("/{code}", s.handleDeleteTemplate)
			r.Post("/{code}/preview", s.handlePreviewTemplate)
			r.Get("/{code}/versions", s.handleListVersions)
		})
		r.Get("/versions/{id}", s.handleGetVersion)
		r.Post("/versions/{id}/restore", s.handleRestoreVersion)

		r.Post("/dispatch", s.handleDispatch)
		r.Post("/send", s.handleSend)
		r.Get("/drivers", s.handleDrivers)

		r.Route("/sandbox", func(r chi.Router) {
			r.Get("/messages", s.handleSandboxList)
			r.Delete("/messages", s.handleSandboxClear)
			r.Get("/messages/{id}", s.handleSandboxGet)
			r.Delete("/messages/{id}", s.handleSandboxDelete)
			r.Get("/stats", s.handleSandboxStats)
		})

		r.Route("/ratelimits", func(r chi.Router) {
			r.Get("/", s.handleRateLimitList)
			r.Get("/{level}/{key}", s.handleRateLimitGet)
			r.Delete("/{level}/{key}", s.handleRateLimitReset)
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        handler,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = s.newHTTPServer(s.router)
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// ListenAndServeTLS starts the HTTPS server with a prepared TLS config
func (s *Server) ListenAndServeTLS(tlsConfig *tls.Config) error {
	s.httpServer = s.newHTTPServer(s.router)
	s.httpServer.TLSConfig = tlsConfig

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
	return s.httpServer.Serve(tls.NewListener(ln, tlsConfig))
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
