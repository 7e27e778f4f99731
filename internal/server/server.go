// Package server runs the bookshelf startup sequence and serves HTTP and the
// optional gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/net/netutil"

	"github.com/louisbranch/bookshelf/internal/adminauth"
	"github.com/louisbranch/bookshelf/internal/host"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/platform/timeouts"
	"github.com/louisbranch/bookshelf/internal/ratelimit"
	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/storage"
	"github.com/louisbranch/bookshelf/internal/updates"
)

// Config configures a Server.
type Config struct {
	App      host.AppInfo
	HTTPAddr string
	// GRPCAddr enables the gRPC health server when set.
	GRPCAddr       string
	MaxConnections int
	DBPath         string
	UpdatesRoot    fs.FS
	Catalog        updates.Catalog
	// Redis is nil when no Redis is configured; rate limiting is then off.
	Redis            *redis.Options
	RateLimitEnabled bool
	AdminSecret      string
	// TrustedProxies are the CIDRs whose X-Forwarded-For is believed when
	// keying rate limits.
	TrustedProxies []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer for startup and request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMetricsRegistry collects metrics in reg instead of a fresh registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.metrics = reg
		}
	}
}

// Server owns the database, Redis client, populated registry and listeners.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *prometheus.Registry

	db       *storage.DB
	redis    *redis.Client
	registry *registry.Registry
	report   updates.Report
	handler  http.Handler
	http     *http.Server
	grpc     *healthServer
}

// New runs the startup sequence: connect Redis, open the database, populate
// the registry from the updates directory, migrate the merged models and
// build the HTTP handler.
func New(ctx context.Context, cfg Config, opts ...Option) (*Server, error) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.UpdatesRoot == nil {
		return nil, errors.New("updates root is required")
	}
	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer(""),
		metrics: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "server.start")
	defer span.End()

	if s.cfg.Redis != nil {
		s.redis = redis.NewClient(s.cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, timeouts.RedisDial)
		err := s.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			s.logger.Warn("redis unavailable, rate limiting fails open", "addr", s.cfg.Redis.Addr, "error", err)
		} else {
			s.logger.Info("redis connected", "addr", s.cfg.Redis.Addr)
		}
	}

	db, err := storage.Open(s.cfg.DBPath)
	if err != nil {
		return err
	}
	s.db = db

	engine := updates.New(s.cfg.Catalog,
		updates.WithLogger(s.logger),
		updates.WithTracer(s.tracer),
		updates.WithMetrics(updates.NewMetrics(s.metrics)),
		updates.WithAppVersion(s.cfg.App.Version),
	)
	reg, report, err := engine.Initialize(ctx, s.cfg.UpdatesRoot, db)
	if err != nil {
		return err
	}
	s.registry, s.report = reg, report
	for _, f := range report.Failures {
		s.logger.Error("update failed", "unit", f.Unit, "stage", f.Stage, "category", f.Category, "error", f.Err)
	}

	if err := db.Migrate(ctx, reg.Models()); err != nil {
		return err
	}

	env := &host.Env{App: s.cfg.App, Registry: reg, Database: db}
	if s.cfg.RateLimitEnabled && s.redis != nil {
		proxies, err := httpx.ParseTrustedProxies(s.cfg.TrustedProxies)
		if err != nil {
			return err
		}
		env.Limiter = ratelimit.New(s.redis,
			ratelimit.WithLogger(s.logger),
			ratelimit.WithMetrics(ratelimit.NewMetrics(s.metrics)),
			ratelimit.WithTrustedProxies(proxies),
		)
	}
	if verifier := adminauth.NewVerifier(s.cfg.AdminSecret, nil); verifier.Enabled() {
		env.Admin = verifier.Middleware()
	} else {
		s.logger.Warn("admin routes are not protected; set an admin token secret to require tokens")
	}

	handler, err := NewHandler(HandlerConfig{
		Env:      env,
		Logger:   s.logger,
		Metrics:  NewHTTPMetrics(s.metrics),
		Gatherer: s.metrics,
		Tracer:   s.tracer,
		Checks:   s.checks(),
	})
	if err != nil {
		return err
	}
	s.handler = handler

	if s.cfg.GRPCAddr != "" {
		grpcServer, err := newHealthServer(s.cfg.GRPCAddr)
		if err != nil {
			return err
		}
		s.grpc = grpcServer
		s.grpc.markServing()
	}
	return nil
}

func (s *Server) checks() map[string]Check {
	checks := map[string]Check{"database": s.db.Ping}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the populated registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Report returns the outcome of update initialization.
func (s *Server) Report() updates.Report {
	return s.report
}

// GRPCAddr returns the bound gRPC health address, or "".
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpc == nil {
		return ""
	}
	return s.grpc.addr()
}

// ListenAndServe serves HTTP, and gRPC health when configured, until ctx
// ends or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	listener, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves HTTP on listener until ctx ends or a listener fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// grpcErr stays nil without a gRPC server so the select never picks it.
	var grpcErr chan error
	if s.grpc != nil {
		grpcErr = make(chan error, 1)
		go func() { grpcErr <- s.grpc.serve(ctx) }()
		s.logger.Info("grpc health listening", "addr", s.grpc.addr())
	}

	httpErr := make(chan error, 1)
	go func() { httpErr <- s.http.Serve(listener) }()
	s.logger.Info("http listening", "addr", listener.Addr().String(), "routers", len(s.registry.Routers()))

	var (
		serveErr error
		httpDone bool
		grpcDone = grpcErr == nil
	)
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		httpDone = true
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve http: %w", err)
		}
	case err := <-grpcErr:
		grpcDone = true
		serveErr = err
	}

	cancel()
	if !httpDone {
		shutdownCtx, stop := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.http.Shutdown(shutdownCtx)
		stop()
		if err != nil && serveErr == nil {
			serveErr = fmt.Errorf("shutdown http server: %w", err)
		}
		if err := <-httpErr; err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = fmt.Errorf("serve http: %w", err)
		}
	}
	if !grpcDone {
		if err := <-grpcErr; err != nil && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Close releases the database, Redis client and gRPC listener.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpc != nil {
		s.grpc.close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close database", "error", err)
		}
	}
}
