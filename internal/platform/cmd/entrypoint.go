// Package cmd holds the startup helpers shared by bookshelf commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/louisbranch/bookshelf/internal/platform/config"
	"github.com/louisbranch/bookshelf/internal/platform/otel"
	"github.com/spf13/pflag"
)

const defaultOTelShutdownTimeout = 5 * time.Second

// ServiceBookshelf names the service in telemetry and CLI output.
const ServiceBookshelf = "bookshelf"

// RunOptions controls shared entrypoint behavior for service commands.
type RunOptions struct {
	// Version is reported as the service version resource attribute.
	Version string
	// ShutdownTimeout sets the timeout used when stopping telemetry.
	ShutdownTimeout time.Duration
	// Logger receives telemetry shutdown errors.
	Logger *slog.Logger
}

// ParseConfig loads BOOKSHELF_* environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnvWithPrefix(cfg, config.EnvPrefix)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *pflag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads defaults from env and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *pflag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry configures observability and executes a service run loop.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, run)
}

// RunWithTelemetryAndOptions configures observability and executes a service run loop.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdown, err := otel.Setup(ctx, service, options.Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownTimeout := options.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = defaultOTelShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "service", service, "error", err)
		}
	}()
	return run(ctx)
}
