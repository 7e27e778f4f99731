// Package host exposes the embedding application's runtime to plugin
// routers through the request context.
//
// Plugin routers are built during registry population, before the server
// has a database or a populated registry to hand them, so they resolve
// everything at request time through FromContext.
package host

import (
	"context"
	"net/http"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/ratelimit"
	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/storage"
)

// Database is the storage surface plugin routers may drive.
type Database interface {
	Ping(ctx context.Context) error
	Setup(ctx context.Context, models []storage.Model) error
}

// AppInfo describes the running application.
type AppInfo struct {
	Title       string
	Description string
	Version     string
}

// Env is the per-process runtime shared with plugin routers.
type Env struct {
	App      AppInfo
	Registry *registry.Registry
	Database Database
	// Limiter may be nil when rate limiting is disabled.
	Limiter *ratelimit.Limiter
	// Admin guards administrative routes; nil leaves them open.
	Admin httpx.Middleware
}

type envKey struct{}

// WithEnv stores env in ctx.
func WithEnv(ctx context.Context, env *Env) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, envKey{}, env)
}

// FromContext returns the env stored in ctx.
func FromContext(ctx context.Context) (*Env, bool) {
	if ctx == nil {
		return nil, false
	}
	env, ok := ctx.Value(envKey{}).(*Env)
	return env, ok && env != nil
}

// Inject attaches env to every request.
func Inject(env *Env) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithEnv(r.Context(), env)))
		})
	}
}

// Service resolves a registry service of type F for the current request.
func Service[F any](r *http.Request, name string) (F, error) {
	var zero F
	env, ok := FromContext(httpx.RequestContext(r))
	if !ok || env.Registry == nil {
		return zero, apperrors.E(apperrors.KindUnavailable, "service registry is not available")
	}
	return registry.ServiceAs[F](env.Registry, name)
}

// Limit applies the env limiter at level for endpoint. Requests pass
// through when no limiter is configured.
func Limit(endpoint string, level ratelimit.Level) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			env, ok := FromContext(r.Context())
			if !ok || env.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			env.Limiter.Middleware(endpoint, level)(next).ServeHTTP(w, r)
		})
	}
}

// RequireAdmin applies the env admin guard.
func RequireAdmin() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			env, ok := FromContext(r.Context())
			if !ok || env.Admin == nil {
				next.ServeHTTP(w, r)
				return
			}
			env.Admin(next).ServeHTTP(w, r)
		})
	}
}
