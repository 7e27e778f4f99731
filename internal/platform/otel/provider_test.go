package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/bookshelf/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("BOOKSHELF_OTEL_ENDPOINT", "")
	t.Setenv("BOOKSHELF_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "bookshelf", "0.1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("BOOKSHELF_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("BOOKSHELF_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "bookshelf", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv("BOOKSHELF_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("BOOKSHELF_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "bookshelf", "0.1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSettingsActive(t *testing.T) {
	cases := []struct {
		name     string
		settings otel.Settings
		want     bool
	}{
		{name: "empty", settings: otel.Settings{}, want: false},
		{name: "endpoint", settings: otel.Settings{Endpoint: "http://collector:4318"}, want: true},
		{name: "disabled", settings: otel.Settings{Enabled: "FALSE", Endpoint: "http://collector:4318"}, want: false},
		{name: "blank endpoint", settings: otel.Settings{Enabled: "true", Endpoint: "  "}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.settings.Active(); got != tc.want {
				t.Fatalf("Active() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTracerIsUsableWithoutSetup(t *testing.T) {
	_, span := otel.Tracer().Start(context.Background(), "noop")
	span.End()
}
