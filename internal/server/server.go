// package server contains the routing, middleware and handlers of the spotproxy web service
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/models"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an http.Handler that knows which route patterns it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router registers handlers behind a shared middleware stack.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Authenticator is the user-session side of the token layer, satisfied by [auth.SessionManager].
type Authenticator interface {
	AuthCodeURL(state string) string
	Load(ctx context.Context, id string) (*auth.Session, error)
	Exchange(ctx context.Context, s *auth.Session, code string) error
	Clear(ctx context.Context, s *auth.Session) error
}

// Executor performs upstream requests, satisfied by [services.Client].
type Executor interface {
	Execute(ctx context.Context, req services.Request) (*services.Response, error)
}

// CollectionSource aggregates playlist metadata, satisfied by [tasks.Aggregator].
type CollectionSource interface {
	Collections(ctx context.Context, ids []string) []models.CollectionMetadata
}

// Opts configures a [Server].
type Opts struct {
	Addr              string
	Sessions          *scs.SessionManager
	Auth              Authenticator
	Upstream          Executor
	Collections       CollectionSource
	DefaultIDs        []string
	PostLoginRedirect string
	Gatherer          prometheus.Gatherer
	Logger            *log.Logger
}

// Server is the spotproxy HTTP service.
type Server struct {
	router     *BasicRouter
	httpServer *http.Server
	logger     *log.Logger
}

// NewSessions creates the cookie session manager that carries the opaque session id and OAuth state.
func NewSessions(lifetime time.Duration, secure bool) *scs.SessionManager {
	sessions := scs.New()
	sessions.Lifetime = lifetime
	sessions.Cookie.Name = "spotproxy_session"
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.Secure = secure
	sessions.Cookie.SameSite = http.SameSiteLaxMode
	return sessions
}

// New wires the routes of the service.
func New(opts Opts) (*Server, error) {
	if opts.Auth == nil || opts.Upstream == nil || opts.Collections == nil {
		return nil, fmt.Errorf("%w: auth, upstream and collections are required", shared.ErrInvalidConfig)
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSessions(24*time.Hour, false)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "server")

	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger), opts.Sessions.LoadAndSave)

	router.Handler(NewAuthHandler(opts.Auth, opts.Sessions, opts.PostLoginRedirect, logger))
	router.Handler(NewProxyHandler(opts.Upstream, opts.Auth, opts.Sessions, logger))
	router.Handler(NewCollectionsHandler(opts.Collections, opts.DefaultIDs, logger))
	router.Handle(http.MethodGet, "/healthz", http.HandlerFunc(Health))
	router.Handle(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("error shutting down server", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
