// Package session carries the current owner through request contexts.
//
// A request without a verified owner is treated as logged out: reads return
// empty results and mutations fail with core.ErrNotAuthenticated. The
// middleware never rejects a request by itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// OwnerHeader identifies the owner when no JWT secret is configured.
const OwnerHeader = "X-Owner-ID"

var ErrInvalidToken = errors.New("invalid or expired token")

type contextKey string

const ownerKey contextKey = "owner_id"

// WithOwner returns a context carrying owner. An empty owner leaves ctx unchanged.
func WithOwner(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext returns the owner id, or "" and false when logged out.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner, owner != ""
}

// Claims are the JWT claims accepted by the API.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify returns the owner id carried by token.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Middleware resolves the owner of each request. With a verifier, only a valid
// bearer token counts; without one, the X-Owner-ID header is trusted.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := ""
			if v != nil {
				if token, ok := bearerToken(r); ok {
					var err error
					owner, err = v.Verify(token)
					if err != nil {
						slog.WarnContext(r.Context(), "Rejected bearer token", "error", err, "path", r.URL.Path)
					}
				}
			} else {
				owner = strings.TrimSpace(r.Header.Get(OwnerHeader))
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
