// Package httpx provides HTTP middleware and response helpers shared by the
// server and plugin routers.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/logging"
)

// RequestIDHeader carries the correlation id.
const RequestIDHeader = "X-Request-ID"

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

var requestIDCounter atomic.Uint64

// Chain applies middleware in declaration order.
func Chain(handler http.Handler, middleware ...Middleware) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	wrapped := handler
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		if middleware[idx] == nil {
			continue
		}
		wrapped = middleware[idx](wrapped)
	}
	return wrapped
}

// RequestID injects and echoes a request id and attaches a request-scoped
// logger to the context.
func RequestID(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if requestID == "" {
				requestID = fmt.Sprintf("bookshelf-%d-%d", time.Now().UnixNano(), requestIDCounter.Add(1))
				r.Header.Set(RequestIDHeader, requestID)
			}
			w.Header().Set(RequestIDHeader, requestID)
			ctx := logging.WithLogger(r.Context(), logger.With("request_id", requestID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecoverPanic converts panics into HTTP 500 responses.
func RecoverPanic() Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logging.FromContext(RequestContext(r)).Error("panic recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", recovered,
						"stack", strings.TrimSpace(string(debug.Stack())),
					)
					WriteDetail(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON writes a JSON response with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return fmt.Errorf("response writer is required")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteDetail writes a `{"detail": message}` error body.
func WriteDetail(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, map[string]string{"detail": message})
}

// WriteError writes err using its typed status and logs untyped failures.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil {
		return
	}
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		path := "-"
		if r != nil {
			path = r.URL.Path
		}
		logging.FromContext(RequestContext(r)).Error("request failed", "path", path, "error", err)
	}
	WriteDetail(w, status, apperrors.PublicMessage(err))
}

// DecodeJSON reads a JSON body of at most MaxBodyBytes into a generic value
// suitable for schema validation.
func DecodeJSON(r *http.Request) (any, error) {
	if r == nil || r.Body == nil {
		return nil, apperrors.E(apperrors.KindInvalidInput, "request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, "request body must be valid JSON", err)
	}
	return payload, nil
}

// ForwardedForHeader lists the hops a request passed through.
const ForwardedForHeader = "X-Forwarded-For"

// TrustedProxies lists the networks whose forwarding headers are believed.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses CIDRs or bare addresses. Blank values are skipped.
func ParseTrustedProxies(values []string) (TrustedProxies, error) {
	var proxies TrustedProxies
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
			}
			proxies = append(proxies, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
		}
		addr = addr.Unmap()
		proxies = append(proxies, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return proxies, nil
}

// Contains reports whether addr belongs to a trusted network.
func (p TrustedProxies) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client that sent r. Forwarding hops are
// read right to left and only while the hop that reported them is trusted, so
// an untrusted peer cannot choose its own address.
func (p TrustedProxies) ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	client := remoteHost(r.RemoteAddr)
	addr, err := netip.ParseAddr(client)
	if err != nil || !p.Contains(addr) {
		return client
	}
	var hops []string
	for _, header := range r.Header.Values(ForwardedForHeader) {
		for _, hop := range strings.Split(header, ",") {
			hops = append(hops, strings.TrimSpace(hop))
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		client = hop.Unmap().String()
		if !p.Contains(hop) {
			break
		}
	}
	return client
}

// ClientIP returns the host of the connection peer. Forwarding headers are
// ignored; use TrustedProxies.ClientIP behind a proxy.
func ClientIP(r *http.Request) string {
	return TrustedProxies(nil).ClientIP(r)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}

// RequestContext returns r.Context() with a nil-safe fallback to context.Background().
func RequestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}
