package inspect

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/reactor/pkg/reactive"
)

// Config holds debug server settings.
type Config struct {
	// Addr is the listen address.
	// Default: "localhost:6060".
	Addr string

	// Gatherer backs /metrics. When nil the route is not mounted.
	Gatherer prometheus.Gatherer

	// Logger receives request and lifecycle logs.
	// Default: slog.Default().With("component", "inspect").
	Logger *slog.Logger

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// WatchWriteTimeout bounds each websocket write.
	WatchWriteTimeout time.Duration
}

// Option configures a Server.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

// WithGatherer mounts /metrics over g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *Config) { c.Gatherer = g }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:              "localhost:6060",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		WatchWriteTimeout: 5 * time.Second,
	}
}

// Server exposes a runtime's cells over HTTP.
type Server struct {
	rt       *reactive.Runtime
	config   Config
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	// base is canceled on Shutdown to end open watch streams, which
	// http.Server.Shutdown does not track once hijacked.
	base       context.Context
	cancelBase context.CancelFunc
	watchers   sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates a debug server for rt.
func New(rt *reactive.Runtime, opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "inspect")
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		rt:         rt,
		config:     cfg,
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Debug endpoint, bound to localhost by default.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/cells", func(r chi.Router) {
		r.Get("/", s.handleCells)
		r.Get("/{id}", s.handleCell)
		r.Get("/{id}/watch", s.handleWatch)
	})
	if s.config.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Run is listening, otherwise the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Run listens on the configured address and serves until ctx is done or
// the server fails. A canceled ctx triggers a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("inspect server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes watch streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.cancelBase()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("watch streams still open after shutdown timeout")
	}

	s.logger.Info("inspect server shutdown complete")
	return nil
}

// logRequests logs each request at Debug with its chi request id.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
