// Package httpsrv serves a callback.Router over the sidecar's HTTP app
// protocol.
//
// Routes are built from the Router's registrations when the Server is
// created, so register every handler first.
package httpsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bjaus/callback"
)

const (
	subscribePath = "/dapr/subscribe"
	healthPath    = "/healthz"
	jobPrefix     = "/job/"
)

var (
	// ErrRouteConflict is returned when two registrations map to the same path.
	ErrRouteConflict = errors.New("route conflict")

	// ErrInvalidPath is returned when a registered name or route cannot be
	// served as a literal path.
	ErrInvalidPath = errors.New("invalid path")
)

// Server exposes a Router over HTTP.
type Server struct {
	router *callback.Router
	logger *slog.Logger
	mux    *chi.Mux
	http   *http.Server

	readHeaderTimeout time.Duration
	middlewares       []func(http.Handler) http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.readHeaderTimeout = d }
}

// WithMiddleware wraps every route, after request id assignment and
// logging.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mw...) }
}

// New builds the HTTP routes for every registration on r. It fails with
// ErrRouteConflict when a method, binding or topic route share a path, and
// with ErrInvalidPath when a name holds chi pattern characters.
func New(r *callback.Router, opts ...Option) (*Server, error) {
	s := &Server{
		router:            r,
		logger:            slog.Default(),
		mux:               chi.NewRouter(),
		readHeaderTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.Use(middleware.RequestID, requestLogger(s.logger), middleware.Recoverer)
	s.mux.Use(s.middlewares...)
	if err := s.routes(); err != nil {
		return nil, err
	}
	s.http = &http.Server{Handler: s.mux, ReadHeaderTimeout: s.readHeaderTimeout}
	return s, nil
}

func (s *Server) routes() error {
	taken := map[string]string{
		subscribePath: "subscription discovery",
		healthPath:    "health check",
	}
	claim := func(path, owner string) error {
		if strings.ContainsAny(path, "{}*") {
			return fmt.Errorf("%w: %s for %s contains pattern syntax", ErrInvalidPath, path, owner)
		}
		if prev, ok := taken[path]; ok {
			return fmt.Errorf("%w: %s is used by %s and %s", ErrRouteConflict, path, prev, owner)
		}
		taken[path] = owner
		return nil
	}

	s.mux.Get(subscribePath, s.handleSubscribe)
	s.mux.Get(healthPath, s.handleHealth)
	s.mux.Post(jobPrefix+"{name}", s.handleJob)

	bulk := make(map[callback.TopicKey]bool)
	for _, sub := range s.router.Subscriptions() {
		if sub.Bulk != nil && sub.Bulk.Enabled {
			bulk[callback.TopicKey{PubsubName: sub.PubsubName, Topic: sub.Topic}] = true
		}
	}
	for path, key := range s.router.TopicRoutes() {
		if err := claim(path, "topic "+key.String()); err != nil {
			return err
		}
		s.mux.Post(path, s.handleTopic(path, key, bulk[key]))
	}
	for _, name := range s.router.Bindings() {
		path := "/" + name
		if err := claim(path, "binding "+name); err != nil {
			return err
		}
		s.mux.Post(path, s.handleBinding(name))
		s.mux.Options(path, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	for _, name := range s.router.Methods() {
		path := "/" + name
		if err := claim(path, "method "+name); err != nil {
			return err
		}
		s.mux.Handle(path, s.handleMethod(name))
	}
	return nil
}

// Handler returns the routed handler, for tests or for mounting under
// another server.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve accepts connections on lis until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Stop shuts the server down, waiting for in-flight requests until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.DebugContext(r.Context(), "http call",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
