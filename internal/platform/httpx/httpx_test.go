package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/logging"
)

func assertJSON(t *testing.T, want, got string) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("decode body %q: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Fatalf("body = %s, want %s", got, want)
	}
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	t.Parallel()

	called := ""
	mw := func(tag string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called += tag
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called += "h"
		w.WriteHeader(http.StatusNoContent)
	}), mw("1"), nil, mw("2"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if called != "12h" {
		t.Fatalf("call order = %q, want %q", called, "12h")
	}
}

func TestRequestIDAddsHeaderAndLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("handled")
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	id := rr.Header().Get(RequestIDHeader)
	if !strings.HasPrefix(id, "bookshelf-") {
		t.Fatalf("request id = %q, want bookshelf- prefix", id)
	}
	if !strings.Contains(buf.String(), `"request_id":"`+id+`"`) {
		t.Fatalf("log = %s, want request_id %s", buf.String(), id)
	}
}

func TestRequestIDPreservesIncomingHeader(t *testing.T) {
	t.Parallel()

	h := RequestID(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "req-7" {
		t.Fatalf("request id = %q, want req-7", got)
	}
}

func TestRecoverPanicReturns500(t *testing.T) {
	t.Parallel()

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestID(logging.Discard()), RecoverPanic())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/explode", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	assertJSON(t, `{"detail":"Internal Server Error"}`, rr.Body.String())
}

func TestWriteErrorUsesTypedStatus(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/9", nil)
	rr := httptest.NewRecorder()
	WriteError(rr, req, apperrors.E(apperrors.KindNotFound, "Book not found"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	assertJSON(t, `{"detail":"Book not found"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	WriteError(rr, req, errors.New("database is locked"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rr.Body.String(), "locked") {
		t.Fatalf("body leaks internal error: %s", rr.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"Dune","year":1965}`))
	payload, err := DecodeJSON(req)
	if err != nil {
		t.Fatalf("DecodeJSON returned error: %v", err)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want object", payload)
	}
	if obj["title"] != "Dune" || obj["year"] != json.Number("1965") {
		t.Fatalf("payload = %v", obj)
	}

	_, err = DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	if kind := apperrors.KindOf(err); kind != apperrors.KindInvalidInput {
		t.Fatalf("kind = %v, want %v", kind, apperrors.KindInvalidInput)
	}
}

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	if got := ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("ClientIP = %q, want 10.0.0.5", got)
	}

	req.Header.Set(ForwardedForHeader, "203.0.113.9")
	if got := ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("ClientIP with spoofed header = %q, want 10.0.0.5", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "unix"
	if got := ClientIP(req); got != "unix" {
		t.Fatalf("ClientIP = %q, want unix", got)
	}
}

func TestTrustedProxiesClientIP(t *testing.T) {
	t.Parallel()

	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " ", "192.0.2.1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies returned error: %v", err)
	}

	tests := []struct {
		name      string
		remote    string
		forwarded []string
		want      string
	}{
		{name: "untrusted peer", remote: "198.51.100.7:1000", forwarded: []string{"203.0.113.9"}, want: "198.51.100.7"},
		{name: "trusted peer without header", remote: "10.0.0.5:1000", want: "10.0.0.5"},
		{name: "trusted peer", remote: "10.0.0.5:1000", forwarded: []string{"203.0.113.9"}, want: "203.0.113.9"},
		{name: "spoofed leftmost hop", remote: "10.0.0.5:1000", forwarded: []string{"1.2.3.4, 203.0.113.9"}, want: "203.0.113.9"},
		{name: "chain of proxies", remote: "192.0.2.1:1000", forwarded: []string{"203.0.113.9", "10.1.1.1"}, want: "203.0.113.9"},
		{name: "malformed hop", remote: "10.0.0.5:1000", forwarded: []string{"nonsense, 10.2.2.2"}, want: "10.2.2.2"},
		{name: "mapped address", remote: "[::ffff:10.0.0.5]:1000", forwarded: []string{"203.0.113.9"}, want: "203.0.113.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for _, value := range tc.forwarded {
				req.Header.Add(ForwardedForHeader, value)
			}
			if got := proxies.ClientIP(req); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := ParseTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for invalid prefix")
	}
	if _, err := ParseTrustedProxies([]string{"proxy.local"}); err == nil {
		t.Fatal("expected error for host name")
	}
}
