// Package auth verifies bearer tokens on the sync endpoint and derives the
// caller's ActionContext from them.
package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
)

// Claims are the JWT claims the sync endpoint understands.
type Claims struct {
	Role    models.Role `json:"role"`
	StoreID string      `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for tokens signed with secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Verify parses token and returns the caller it identifies.
func (v *Verifier) Verify(token string) (models.ActionContext, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return models.ActionContext{}, errors.Wrap(errors.ErrUnauthenticated, "token expired", err)
		}
		return models.ActionContext{}, errors.Wrap(errors.ErrUnauthenticated, "invalid token", err)
	}
	if claims.Subject == "" {
		return models.ActionContext{}, errors.New(errors.ErrUnauthenticated, "token has no subject")
	}
	if !claims.Role.Valid() {
		return models.ActionContext{}, errors.Newf(errors.ErrUnauthenticated, "unknown role %q", claims.Role)
	}
	return models.ActionContext{
		UserID:  claims.Subject,
		Role:    claims.Role,
		StoreID: claims.StoreID,
	}, nil
}

// Issuer mints HS256 tokens. The sync endpoint never calls it; it exists for
// development tooling and tests.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an Issuer signing with secret.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// Issue returns a signed token for actx valid for ttl.
func (i *Issuer) Issue(actx models.ActionContext, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Role:    actx.Role,
		StoreID: actx.StoreID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actx.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(errors.ErrInternal, "sign token", err)
	}
	return signed, nil
}

type contextKey struct{}

// WithActionContext returns ctx carrying actx.
func WithActionContext(ctx context.Context, actx models.ActionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, actx)
}

// FromContext returns the caller stored by Middleware.
func FromContext(ctx context.Context) (models.ActionContext, bool) {
	actx, ok := ctx.Value(contextKey{}).(models.ActionContext)
	return actx, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid bearer token with 401 before
// the body is read, and stores the caller in the request context otherwise.
func Middleware(v *Verifier, onReject func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				onReject(w, errors.New(errors.ErrUnauthenticated, "missing bearer token"))
				return
			}
			actx, err := v.Verify(token)
			if err != nil {
				onReject(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActionContext(r.Context(), actx)))
		})
	}
}
