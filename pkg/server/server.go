package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/sigsync/pkg/middleware"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// Option configures a Server.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	middleware  []middleware.Middleware
	metrics     *middleware.Metrics
	gatherer    prometheus.Gatherer
	syncOptions []signals.Option
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMiddleware wraps the hub before the host context uses it.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mws...)
	}
}

// WithMetrics counts hub traffic, peers and subscriber failures in m and
// serves g on /metrics.
func WithMetrics(m *middleware.Metrics, g prometheus.Gatherer) Option {
	return func(o *options) {
		o.metrics = m
		o.gatherer = g
	}
}

// WithSyncOptions passes options to the host SyncContext.
func WithSyncOptions(opts ...signals.Option) Option {
	return func(o *options) {
		o.syncOptions = append(o.syncOptions, opts...)
	}
}

// Server is the HTTP/WebSocket host for a set of signals.
type Server struct {
	config   *Config
	hub      *Hub
	sc       *signals.SyncContext
	loop     *applyLoop
	router   chi.Router
	upgrader websocket.Upgrader
	gatherer prometheus.Gatherer

	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server and its host SyncContext. Signals created on
// Context() are replicated to every peer. Inbound messages apply on a
// single loop goroutine; use Do for host writes made while peers are
// connected.
func New(config *Config, opts ...Option) *Server {
	config = config.withDefaults()

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "server")

	hubOpts := []HubOption{WithHubLogger(o.logger), WithConnConfig(config.Conn)}
	mws := o.middleware
	syncOpts := append([]signals.Option{signals.WithLogger(o.logger)}, o.syncOptions...)
	if o.metrics != nil {
		hubOpts = append(hubOpts, WithPeersHook(o.metrics.SetPeers))
		mws = append([]middleware.Middleware{o.metrics.Wrap}, mws...)
		syncOpts = append(syncOpts, signals.WithErrorHandler(o.metrics.ErrorHandler()))
	}
	loop := newApplyLoop(config.ApplyQueueSize, logger)
	syncOpts = append(syncOpts, signals.WithDispatcher(loop.post))

	hub := NewHub(hubOpts...)
	sc := signals.NewSyncContext(middleware.Chain(hub, mws...), syncOpts...)
	hub.SetSnapshot(sc.CreatedMessages)
	if err := sc.Listen(); err != nil {
		logger.Error("host listen failed", "error", err)
	}

	s := &Server{
		config: config,
		hub:    hub,
		sc:     sc,
		loop:   loop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		gatherer: o.gatherer,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/sync", s.HandleWebSocket)
	r.Get("/signals", s.handleSignals)
	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Context returns the host SyncContext.
func (s *Server) Context() *signals.SyncContext {
	return s.sc
}

// Do runs fn on the host apply loop and waits for it to finish. It
// returns false if the server shut down before fn ran. Calling Do from
// code already on the loop, such as a host subscriber, deadlocks.
func (s *Server) Do(fn func()) bool {
	return s.loop.do(fn)
}

// Hub returns the peer hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler, for mounting under another router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// HandleWebSocket upgrades the request and attaches the peer to the hub.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	if _, err := s.hub.Attach(conn); err != nil {
		s.logger.Warn("peer rejected", "remote_addr", r.RemoteAddr, "error", err)
	}
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sc.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"peers":   s.hub.Len(),
		"signals": s.sc.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Run serves on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown disconnects peers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Close()
	s.loop.stop()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
