package updates

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/schema"
	"github.com/louisbranch/bookshelf/internal/storage"
)

// Engine discovers plugins and populates a registry from their hooks.
type Engine struct {
	catalog    Catalog
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	appVersion string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for startup spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics records outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithAppVersion checks manifests' requires constraints against version.
func WithAppVersion(version string) Option {
	return func(e *Engine) {
		e.appVersion = version
	}
}

// New returns an engine over catalog.
func New(catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize runs discovery over root, invokes every hook of every loaded
// plugin and publishes the merged registry.
//
// All plugins are instantiated before any hook runs, and categories are
// merged in the fixed registry.Categories order with plugins in discovery
// order. Plugin failures are recorded in the report and never abort the run.
// The returned error is non-nil only when ctx ends before publication.
func (e *Engine) Initialize(ctx context.Context, root fs.FS, sessions storage.SessionFactory) (*registry.Registry, Report, error) {
	ctx, span := e.tracer.Start(ctx, "updates.initialize")
	defer span.End()

	reg := registry.New()
	builder, err := reg.Begin()
	if err != nil {
		return nil, Report{}, err
	}

	units, failures := e.Discover(root)
	merges := map[registry.Category]CategoryStats{}
	report := Report{Failures: failures, Categories: merges}
	for _, u := range units {
		report.Units = append(report.Units, UnitInfo{Name: u.Name, Version: u.Manifest.Version, Hooks: Hooks(u.Plugin)})
	}
	e.logger.Info("discovered update plugins", "count", len(units), "failed", len(failures), "catalog", e.catalog.Names())
	span.SetAttributes(attribute.Int("updates.units", len(units)))

	for _, category := range registry.Categories() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return nil, report, fmt.Errorf("initialize updates: %w", err)
		}
		stats := CategoryStats{}
		for _, u := range units {
			result, handled, err := e.invoke(ctx, builder, category, u, sessions)
			if !handled {
				continue
			}
			if err != nil {
				e.logger.Error("plugin hook failed", "plugin", u.Name, "category", category, "error", err)
				report.Failures = append(report.Failures, Failure{Unit: u.Name, Category: category, Stage: StageHook, Err: err})
				continue
			}
			if rejectErr := result.Err(); rejectErr != nil {
				e.logger.Warn("plugin contribution rejected", "plugin", u.Name, "category", category, "error", rejectErr)
				report.Failures = append(report.Failures, Failure{Unit: u.Name, Category: category, Stage: StageMerge, Err: rejectErr})
			}
			for _, name := range result.Overridden {
				e.logger.Debug("contribution overridden", "plugin", u.Name, "category", category, "name", name)
			}
			stats.Inserted += len(result.Inserted)
			stats.Overridden += len(result.Overridden)
			stats.Discarded += len(result.Discarded)
		}
		stats.Names = builder.Counts()[category]
		merges[category] = stats
		e.logger.Info("merged capabilities", "category", category, "names", stats.Names, "overridden", stats.Overridden)
	}

	if err := builder.Publish(); err != nil {
		return nil, report, err
	}
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, "plugin failures")
		span.SetAttributes(attribute.Int("updates.failures", len(report.Failures)))
	}
	e.metrics.observe(report)
	return reg, report, nil
}

// invoke calls one hook of u. handled is false when u does not implement it.
func (e *Engine) invoke(ctx context.Context, b *registry.Builder, category registry.Category, u Unit, sessions storage.SessionFactory) (result registry.MergeResult, handled bool, err error) {
	_, span := e.tracer.Start(ctx, "updates.hook", trace.WithAttributes(
		attribute.String("updates.plugin", u.Name),
		attribute.String("updates.category", string(category)),
	))
	defer span.End()
	defer func() {
		if recovered := recover(); recovered != nil {
			handled = true
			err = fmt.Errorf("hook panicked: %v", recovered)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	switch category {
	case registry.Models:
		hook, ok := u.Plugin.(ModelRegistrar)
		if !ok {
			return result, false, nil
		}
		var set registry.Set[storage.Model]
		if set, err = hook.RegisterModels(); err == nil {
			result = b.MergeModels(u.Name, set)
		}
	case registry.Schemas:
		hook, ok := u.Plugin.(SchemaRegistrar)
		if !ok {
			return result, false, nil
		}
		var set registry.Set[*schema.Schema]
		if set, err = hook.RegisterSchemas(); err == nil {
			result = b.MergeSchemas(u.Name, set)
		}
	case registry.Services:
		hook, ok := u.Plugin.(ServiceRegistrar)
		if !ok {
			return result, false, nil
		}
		var set registry.Set[any]
		if set, err = hook.RegisterServices(sessions); err == nil {
			result = b.MergeServices(u.Name, set)
		}
	case registry.Routers:
		hook, ok := u.Plugin.(RouterRegistrar)
		if !ok {
			return result, false, nil
		}
		var set registry.Set[http.Handler]
		if set, err = hook.RegisterRouters(); err == nil {
			result = b.MergeRouters(u.Name, set)
		}
	default:
		return result, false, nil
	}
	return result, true, err
}
