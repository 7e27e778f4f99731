package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/louisbranch/bookshelf/internal/host"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/platform/timeouts"
	"github.com/louisbranch/bookshelf/internal/registry"
)

// Built-in routes owned by the application rather than by updates.
const (
	InfoPath    = "/api"
	HealthPath  = "/healthz"
	ReadyPath   = "/readyz"
	MetricsPath = "/metrics"
)

// Check is one readiness probe.
type Check func(ctx context.Context) error

// HandlerConfig wires the HTTP surface.
type HandlerConfig struct {
	Env      *host.Env
	Logger   *slog.Logger
	Metrics  *HTTPMetrics
	Gatherer prometheus.Gatherer
	Tracer   trace.Tracer
	// Checks run on /readyz in addition to the registry state.
	Checks map[string]Check
}

// InfoResponse is served on InfoPath.
type InfoResponse struct {
	App     string `json:"app"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// NewHandler builds the application router and mounts every merged update
// router. Routers whose prefix cannot be mounted are logged and skipped.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.Env == nil || cfg.Env.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if err := cfg.Env.Registry.Check(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		httpx.RequestID(cfg.Logger),
		httpx.RecoverPanic(),
		instrument(cfg.Metrics, cfg.Tracer),
		host.Inject(cfg.Env),
	)
	r.Get(InfoPath, info(cfg.Env.App))
	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get(ReadyPath, ready(cfg.Env.Registry, cfg.Checks))
	r.Handle(MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	for _, err := range mountRouters(r, cfg.Env.Registry.Routers(), cfg.Logger) {
		cfg.Logger.Error("router not mounted", "error", err)
	}
	return r, nil
}

func info(app host.AppInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, InfoResponse{App: app.Title, Version: app.Version, Status: "running"})
	}
}

func ready(reg *registry.Registry, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return func(w http.ResponseWriter, r *http.Request) {
		results := map[string]string{}
		status := http.StatusOK
		if err := reg.Check(); err != nil {
			results["registry"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			results["registry"] = "ok"
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping)
			err := checks[name](ctx)
			cancel()
			if err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ready"
		if status != http.StatusOK {
			state = "unavailable"
		}
		_ = httpx.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}

// normalizePrefix maps a router key to a chi mount pattern: a leading
// slash, no trailing slash, and "/" for the empty key.
func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = "/" + strings.Trim(prefix, "/")
	return prefix
}

var reservedPrefixes = map[string]bool{
	InfoPath:    true,
	HealthPath:  true,
	ReadyPath:   true,
	MetricsPath: true,
}

// mountRouters mounts routes in prefix order and returns one error per
// route it had to skip.
func mountRouters(r chi.Router, routes []registry.Route, logger *slog.Logger) []error {
	var errs []error
	seen := map[string]string{}
	for _, route := range routes {
		pattern := normalizePrefix(route.Prefix)
		switch {
		case route.Handler == nil:
			errs = append(errs, fmt.Errorf("router %q has no handler", route.Prefix))
			continue
		case strings.ContainsAny(pattern, "{}*"):
			errs = append(errs, fmt.Errorf("router %q: prefix must be a static path", route.Prefix))
			continue
		case reservedPrefixes[pattern]:
			errs = append(errs, fmt.Errorf("router %q collides with a built-in route", route.Prefix))
			continue
		}
		if other, dup := seen[pattern]; dup {
			errs = append(errs, fmt.Errorf("router %q collides with router %q at %s", route.Prefix, other, pattern))
			continue
		}
		seen[pattern] = route.Prefix
		r.Mount(pattern, route.Handler)
		logger.Debug("mounted router", "prefix", pattern)
	}
	return errs
}
