// Package adminauth guards administrative routes with HS256 bearer tokens.
package adminauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/platform/requestctx"
)

const (
	// Issuer is stamped on every admin token.
	Issuer = "bookshelf"
	// Audience restricts tokens to the admin surface.
	Audience = "bookshelf-admin"
)

// Verifier checks admin tokens signed with a shared secret. A verifier
// with an empty secret is disabled and lets every request through.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a verifier for secret. now defaults to time.Now.
func NewVerifier(secret string, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(strings.TrimSpace(secret)), now: now}
}

// Enabled reports whether tokens are required.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Issue signs a token for subject valid for ttl.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("admin token secret is not configured")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	now := v.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.E(apperrors.KindUnauthorized, "admin token is required")
	}
	if !v.Enabled() {
		return "", errors.New("admin token verifier is not configured")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", apperrors.E(apperrors.KindUnauthorized, "admin token subject is required")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context.
func (v *Verifier) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := v.Verify(BearerToken(r))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="bookshelf-admin"`)
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithSubject(r.Context(), subject)))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.KindUnauthorized, "admin token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.KindUnauthorized, "admin token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.KindUnauthorized, "admin token is invalid", err)
	}
}
