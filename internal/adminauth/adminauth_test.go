package adminauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/requestctx"
)

func fixedNow() time.Time {
	return time.Date(2026, time.January, 11, 12, 0, 0, 0, time.UTC)
}

func issue(t *testing.T, v *Verifier, subject string, ttl time.Duration) string {
	t.Helper()
	token, err := v.Issue(subject, ttl)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	return token
}

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("s3cret", fixedNow)
	subject, err := v.Verify(issue(t, v, "ops", time.Hour))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if subject != "ops" {
		t.Fatalf("subject = %q, want ops", subject)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	token := issue(t, NewVerifier("s3cret", fixedNow), "ops", time.Minute)

	later := NewVerifier("s3cret", func() time.Time { return fixedNow().Add(2 * time.Minute) })
	_, err := later.Verify(token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
	if kind := apperrors.KindOf(err); kind != apperrors.KindUnauthorized {
		t.Fatalf("kind = %v, want %v", kind, apperrors.KindUnauthorized)
	}
	if msg := apperrors.PublicMessage(err); msg != "admin token is expired" {
		t.Fatalf("message = %q, want %q", msg, "admin token is expired")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token := issue(t, NewVerifier("one", fixedNow), "ops", time.Hour)

	_, err := NewVerifier("two", fixedNow).Verify(token)
	if err == nil {
		t.Fatal("expected error for wrong secret")
	}
	if msg := apperrors.PublicMessage(err); msg != "admin token signature is invalid" {
		t.Fatalf("message = %q, want %q", msg, "admin token signature is invalid")
	}
}

func TestVerifyRejectsForeignAudience(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(fixedNow().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	_, err = NewVerifier("s3cret", fixedNow).Verify(token)
	if kind := apperrors.KindOf(err); err == nil || kind != apperrors.KindUnauthorized {
		t.Fatalf("Verify err = %v (kind %v), want unauthorized", err, kind)
	}
}

func TestVerifyRequiresToken(t *testing.T) {
	_, err := NewVerifier("s3cret", fixedNow).Verify("  ")
	if kind := apperrors.KindOf(err); kind != apperrors.KindUnauthorized {
		t.Fatalf("kind = %v, want %v", kind, apperrors.KindUnauthorized)
	}
}

func TestIssueRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("", fixedNow).Issue("ops", time.Hour); err == nil {
		t.Fatal("expected error without a secret")
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("s3cret", fixedNow)
	token := issue(t, v, "ops", time.Hour)

	var seen string
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/setup_database", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["detail"] != "admin token is required" {
			t.Fatalf("detail = %q, want %q", body["detail"], "admin token is required")
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Fatal("missing WWW-Authenticate header")
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/setup_database", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}
		if seen != "ops" {
			t.Fatalf("subject = %q, want ops", seen)
		}
	})
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	handler := NewVerifier("", nil).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := BearerToken(req); got != "" {
		t.Fatalf("no header token = %q, want empty", got)
	}
	req.Header.Set("Authorization", "Basic abc")
	if got := BearerToken(req); got != "" {
		t.Fatalf("basic token = %q, want empty", got)
	}
	req.Header.Set("Authorization", "bearer abc")
	if got := BearerToken(req); got != "abc" {
		t.Fatalf("bearer token = %q, want abc", got)
	}
	if got := BearerToken(nil); got != "" {
		t.Fatalf("nil request token = %q, want empty", got)
	}
}
