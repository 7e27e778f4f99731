// Package otel configures OpenTelemetry tracing for bookshelf processes.
package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/bookshelf/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by bookshelf packages.
const InstrumentationName = "github.com/louisbranch/bookshelf"

// Settings controls trace export.
type Settings struct {
	Enabled  string `env:"OTEL_ENABLED"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// LoadSettings reads BOOKSHELF_OTEL_* variables.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := config.ParseEnvWithPrefix(&s, config.EnvPrefix); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Active reports whether the settings call for an exporter.
func (s Settings) Active() bool {
	if strings.EqualFold(strings.TrimSpace(s.Enabled), "false") {
		return false
	}
	return strings.TrimSpace(s.Endpoint) != ""
}

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when BOOKSHELF_OTEL_ENDPOINT is empty or
// BOOKSHELF_OTEL_ENABLED is "false", Setup returns a no-op shutdown
// function and no global provider is registered.
func Setup(ctx context.Context, serviceName, version string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	settings, err := LoadSettings()
	if err != nil {
		return noop, err
	}
	if !settings.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(settings.Endpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return noop, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Tracer returns the bookshelf tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
