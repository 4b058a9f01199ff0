package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/infra/logging"
	"novacv/internal/usecase"
)

const AdminKeyHeader = "X-API-Key"

// Claims is what the identity provider puts in a session token. Plan is
// informational; entitlements are always read from the store.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Plan  string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

type JWTAuth struct {
	secret []byte
	now    func() time.Time
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret), now: time.Now}
}

// Mint signs claims valid for ttl. The service itself only verifies; Mint
// serves development tokens and tests.
func (a *JWTAuth) Mint(id, email, plan string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		ID:    id,
		Email: email,
		Plan:  plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuth) Parse(tok string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if claims.ID == "" {
		claims.ID = claims.Subject
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: token has no user id", domain.ErrUnauthorized)
	}
	return claims, nil
}

func (a *JWTAuth) FromRequest(r *http.Request) (*Claims, error) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return nil, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	return a.Parse(strings.TrimSpace(hdr[7:]))
}

type userKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Email string
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(userKey{}).(Principal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, userKey{}, p)
}

// RequireUser verifies the bearer token and makes sure the user row exists
// before any handler reads entitlements.
func RequireUser(auth *JWTAuth, users usecase.UserUseCase, logger *zerolog.Logger, dev bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.FromRequest(r)
			if err != nil {
				WriteError(w, r, logger, dev, err)
				return
			}
			ctx := logging.WithUserID(r.Context(), claims.ID)
			if _, err := users.Ensure(ctx, claims.ID, claims.Email); err != nil {
				WriteError(w, r.WithContext(ctx), logger, dev, err)
				return
			}
			ctx = WithPrincipal(ctx, Principal{ID: claims.ID, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errAdminDisabled = fmt.Errorf("%w: admin api is disabled", domain.ErrForbidden)

// RequireAdmin checks the X-API-Key header against key. An empty key turns
// the admin routes off.
func RequireAdmin(key string, logger *zerolog.Logger, dev bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				WriteError(w, r, logger, dev, errAdminDisabled)
				return
			}
			got := r.Header.Get(AdminKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				WriteError(w, r, logger, dev, fmt.Errorf("%w: bad api key", domain.ErrUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
