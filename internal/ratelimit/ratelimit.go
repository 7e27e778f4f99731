// Package ratelimit implements a Redis sorted-set sliding window limiter.
//
// Each (endpoint, client) pair owns one sorted set of request timestamps.
// A Lua script drops entries older than the window, counts the rest and
// records the new request only when the count is below the limit, so the
// check and the insert are atomic across processes.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/platform/logging"
)

// RejectMessage is the 429 response detail.
const RejectMessage = "Too many requests. Please try again later"

// Level selects a policy.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Policy allows Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies are used for levels without an override.
var DefaultPolicies = map[Level]Policy{
	Low:    {Limit: 60, Window: time.Minute},
	Medium: {Limit: 20, Window: time.Minute},
	High:   {Limit: 5, Window: time.Minute},
}

// KEYS[1] window key
// ARGV[1] now ms, ARGV[2] window start ms, ARGV[3] limit, ARGV[4] window seconds, ARGV[5] member
var slidingWindow = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  local retry = 0
  if oldest[2] then
    retry = tonumber(oldest[2]) - tonumber(ARGV[2])
  end
  return {1, count, retry}
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[5])
redis.call("EXPIRE", KEYS[1], ARGV[4])
return {0, count + 1, 0}
`)

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter checks requests against Redis.
type Limiter struct {
	client   redis.Scripter
	policies map[Level]Policy
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
	proxies  httpx.TrustedProxies
	instance string
	seq      atomic.Uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPolicy overrides the policy of one level.
func WithPolicy(level Level, policy Policy) Option {
	return func(l *Limiter) {
		l.policies[level] = policy
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used when Redis fails.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records decisions in m.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithTrustedProxies lets the middleware read X-Forwarded-For when the
// connection comes from one of proxies. Without it only the peer address
// identifies a client.
func WithTrustedProxies(proxies httpx.TrustedProxies) Option {
	return func(l *Limiter) {
		l.proxies = proxies
	}
}

// New returns a limiter using client.
func New(client redis.Scripter, opts ...Option) *Limiter {
	l := &Limiter{
		client:   client,
		policies: make(map[Level]Policy, len(DefaultPolicies)),
		now:      time.Now,
		logger:   slog.Default(),
		instance: uuid.NewString(),
	}
	for level, policy := range DefaultPolicies {
		l.policies[level] = policy
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the Redis key for endpoint and client.
func Key(endpoint, client string) string {
	return "rate_limiter:" + endpoint + ":" + client
}

// Allow records a request from client to endpoint unless the level's limit
// is already reached within the window.
func (l *Limiter) Allow(ctx context.Context, endpoint, client string, level Level) (Decision, error) {
	policy, ok := l.policies[level]
	if !ok {
		return Decision{}, fmt.Errorf("unknown rate limit level %q", level)
	}
	if policy.Limit <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now().UnixMilli()
	windowStart := now - policy.Window.Milliseconds()
	windowSeconds := int64(policy.Window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	// Members must stay unique across every process sharing the key.
	member := strconv.FormatInt(now, 10) + "-" + l.instance + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	res, err := slidingWindow.Run(ctx, l.client, []string{Key(endpoint, client)},
		now, windowStart, policy.Limit, windowSeconds, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return Decision{
		Allowed:    res[0] == 0,
		Count:      int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Middleware rejects requests over the level's limit with 429. Redis
// failures let the request through. A nil limiter passes every request.
func (l *Limiter) Middleware(endpoint string, level Level) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := l.Allow(r.Context(), endpoint, l.proxies.ClientIP(r), level)
			if err != nil {
				logging.FromContext(r.Context()).Warn("rate limiter unavailable", "endpoint", endpoint, "error", err)
				l.metrics.observeError(endpoint)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				l.metrics.observeReject(endpoint, level)
				seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteDetail(w, http.StatusTooManyRequests, RejectMessage)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics counts limiter outcomes.
type Metrics struct {
	rejected *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewMetrics registers the limiter metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookshelf",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"endpoint", "level"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookshelf",
			Name:      "rate_limit_errors_total",
			Help:      "Rate limiter checks that failed open.",
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) observeReject(endpoint string, level Level) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(endpoint, string(level)).Inc()
}

func (m *Metrics) observeError(endpoint string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(endpoint).Inc()
}
