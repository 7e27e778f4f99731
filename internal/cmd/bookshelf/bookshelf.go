// Package bookshelf parses bookshelf configuration and runs its commands.
package bookshelf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/louisbranch/bookshelf/internal/adminauth"
	"github.com/louisbranch/bookshelf/internal/host"
	entrypoint "github.com/louisbranch/bookshelf/internal/platform/cmd"
	"github.com/louisbranch/bookshelf/internal/platform/config"
	platformgrpc "github.com/louisbranch/bookshelf/internal/platform/grpc"
	"github.com/louisbranch/bookshelf/internal/platform/logging"
	"github.com/louisbranch/bookshelf/internal/platform/otel"
	"github.com/louisbranch/bookshelf/internal/plugins"
	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/server"
	"github.com/louisbranch/bookshelf/internal/storage"
	"github.com/louisbranch/bookshelf/internal/updates"
)

// Config holds bookshelf configuration. Every field reads BOOKSHELF_<tag>.
type Config struct {
	AppTitle         string `env:"APP_TITLE" envDefault:"Bookshelf"`
	AppDescription   string `env:"APP_DESCRIPTION" envDefault:"A book catalog assembled from update plugins."`
	AppVersion       string `env:"APP_VERSION" envDefault:"0.1.0"`
	HTTPAddr         string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	GRPCAddr         string `env:"GRPC_ADDR"`
	MaxConnections   int    `env:"MAX_CONNECTIONS"`
	DBPath           string `env:"DB_PATH" envDefault:"data/bookshelf.db"`
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisDB          int    `env:"REDIS_DB"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RateLimitEnabled bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"debug"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"text"`
	UpdatesDir       string `env:"UPDATES_DIR"`
	AdminTokenSecret string `env:"ADMIN_TOKEN_SECRET"`
	// TrustedProxies are CIDRs allowed to report client addresses in
	// X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// DefaultRedisAddr is used when BOOKSHELF_REDIS_ADDR is unset. Setting it to
// an empty value disables Redis.
const DefaultRedisAddr = "localhost:6379"

// ParseConfig loads Config from the environment.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if _, ok := os.LookupEnv(config.EnvPrefix + "REDIS_ADDR"); !ok {
		cfg.RedisAddr = DefaultRedisAddr
	}
	return cfg, nil
}

// App returns the application metadata.
func (c Config) App() host.AppInfo {
	return host.AppInfo{Title: c.AppTitle, Description: c.AppDescription, Version: c.AppVersion}
}

// UpdatesRoot returns the configured updates directory, or the embedded
// plugins when none is set.
func (c Config) UpdatesRoot() fs.FS {
	if dir := strings.TrimSpace(c.UpdatesDir); dir != "" {
		return os.DirFS(dir)
	}
	return plugins.Root()
}

// RedisOptions returns nil when no Redis address is configured.
func (c Config) RedisOptions() *redis.Options {
	addr := strings.TrimSpace(c.RedisAddr)
	if addr == "" {
		return nil
	}
	return &redis.Options{Addr: addr, DB: c.RedisDB, Password: c.RedisPassword}
}

// ServerConfig maps Config onto the server settings.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		App:              c.App(),
		HTTPAddr:         c.HTTPAddr,
		GRPCAddr:         c.GRPCAddr,
		MaxConnections:   c.MaxConnections,
		DBPath:           c.DBPath,
		UpdatesRoot:      c.UpdatesRoot(),
		Catalog:          plugins.Catalog(),
		Redis:            c.RedisOptions(),
		RateLimitEnabled: c.RateLimitEnabled,
		AdminSecret:      c.AdminTokenSecret,
		TrustedProxies:   c.TrustedProxies,
	}
}

type runner struct {
	cfg    *Config
	logger *slog.Logger
	stderr io.Writer
}

// Execute parses configuration and runs the command named by args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := ParseConfig()
	if err != nil {
		return err
	}
	root := NewCommand(&cfg, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// NewCommand builds the command tree with flags defaulting to cfg.
func NewCommand(cfg *Config, stderr io.Writer) *cobra.Command {
	r := &runner{cfg: cfg, stderr: stderr}
	root := &cobra.Command{
		Use:           "bookshelf",
		Short:         "Serve the bookshelf catalog assembled from update plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(r.cfg.LogLevel, r.cfg.LogFormat, r.stderr)
			if err != nil {
				return err
			}
			r.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.serve(cmd.Context())
		},
	}

	BindFlags(root.PersistentFlags(), cfg)

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.serve(cmd.Context())
			},
		},
		r.updatesCommand(),
		r.dbCommand(),
		r.adminCommand(),
		r.healthcheckCommand(),
	)
	return root
}

// BindFlags registers the shared flags on fs, defaulting to the current
// values of cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address (empty disables rate limiting)")
	fs.StringSliceVar(&cfg.TrustedProxies, "trusted-proxy", cfg.TrustedProxies, "CIDR of a proxy whose X-Forwarded-For is trusted (repeatable)")
	fs.BoolVar(&cfg.RateLimitEnabled, "rate-limit", cfg.RateLimitEnabled, "Enable Redis rate limiting")
	fs.StringVar(&cfg.UpdatesDir, "updates-dir", cfg.UpdatesDir, "Updates directory (empty uses the embedded plugins)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
}

func (r *runner) serve(ctx context.Context) error {
	options := entrypoint.RunOptions{Version: r.cfg.AppVersion, Logger: r.logger}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceBookshelf, options, func(ctx context.Context) error {
		srv, err := server.New(ctx, r.cfg.ServerConfig(),
			server.WithLogger(r.logger),
			server.WithTracer(otel.Tracer()),
		)
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		defer srv.Close()
		return srv.ListenAndServe(ctx)
	})
}

func (r *runner) initialize(ctx context.Context, sessions storage.SessionFactory) (*registry.Registry, updates.Report, error) {
	engine := updates.New(plugins.Catalog(),
		updates.WithLogger(r.logger),
		updates.WithAppVersion(r.cfg.AppVersion),
	)
	return engine.Initialize(ctx, r.cfg.UpdatesRoot(), sessions)
}

// Listing is the machine-readable output of "updates list".
type Listing struct {
	Report   updates.Report                             `json:"report"`
	Entries  map[registry.Category][]registry.EntryInfo `json:"entries"`
	Failures []string                                   `json:"failures"`
}

func (r *runner) updatesCommand() *cobra.Command {
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Discover updates and print the merged capabilities without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, report, err := r.initialize(cmd.Context(), nil)
			if err != nil {
				return err
			}
			listing := Listing{Report: report, Entries: reg.Describe(), Failures: []string{}}
			for _, f := range report.Failures {
				listing.Failures = append(listing.Failures, f.Error())
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}
			return printListing(cmd.OutOrStdout(), listing)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	cmd := &cobra.Command{Use: "updates", Short: "Inspect update plugins"}
	cmd.AddCommand(list)
	return cmd
}

func printListing(out io.Writer, listing Listing) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tVERSION\tHOOKS")
	for _, u := range listing.Report.Units {
		hooks := make([]string, 0, len(u.Hooks))
		for _, h := range u.Hooks {
			hooks = append(hooks, string(h))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Name, u.Version, strings.Join(hooks, ","))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CATEGORY\tNAME\tPRIORITY\tSOURCE")
	for _, category := range registry.Categories() {
		for _, e := range listing.Entries[category] {
			name := e.Name
			if name == "" {
				name = `""`
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", category, name, e.Priority, e.Source)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, f := range listing.Failures {
		fmt.Fprintf(out, "failed: %s\n", f)
	}
	return nil
}

func (r *runner) dbCommand() *cobra.Command {
	setup := &cobra.Command{
		Use:   "setup",
		Short: "Drop and recreate every registered model table",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open(r.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			reg, report, err := r.initialize(cmd.Context(), db)
			if err != nil {
				return err
			}
			for _, f := range report.Failures {
				r.logger.Error("update failed", "unit", f.Unit, "stage", f.Stage, "error", f.Err)
			}
			models := reg.Models()
			if err := db.Setup(cmd.Context(), models); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database has been setup successfully (%d tables)\n", len(models))
			return nil
		},
	}
	cmd := &cobra.Command{Use: "db", Short: "Manage the database"}
	cmd.AddCommand(setup)
	return cmd
}

func (r *runner) adminCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier := adminauth.NewVerifier(r.cfg.AdminTokenSecret, nil)
			if !verifier.Enabled() {
				return errors.New("admin token secret is not configured")
			}
			signed, err := verifier.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	token.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	cmd := &cobra.Command{Use: "admin", Short: "Admin route helpers"}
	cmd.AddCommand(token)
	return cmd
}

func (r *runner) healthcheckCommand() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the gRPC health endpoint of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(r.cfg.GRPCAddr) == "" {
				return errors.New("grpc address is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			logf := func(format string, args ...any) {
				r.logger.Debug(fmt.Sprintf(format, args...))
			}
			if err := platformgrpc.Probe(ctx, r.cfg.GRPCAddr, server.HealthService, wait, logf); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "SERVING")
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the server reports SERVING")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Probe timeout")
	return cmd
}
