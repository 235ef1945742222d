package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nlambert/agrimarket/internal/market"
)

type ctxKey int

const sessionKey ctxKey = iota

// SessionClaims is the bearer-token payload: subject is the user id.
type SessionClaims struct {
	Role market.Role `json:"role"`
	jwt.RegisteredClaims
}

// SignSession issues an HS256 session token for a user.
func SignSession(secret []byte, userID string, role market.Role, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticator validates the Authorization bearer token and injects
// the caller into the request context.
func Authenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				writeJSON(w, http.StatusUnauthorized, errBody{"missing bearer token"})
				return
			}
			var claims SessionClaims
			_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || claims.Subject == "" {
				writeJSON(w, http.StatusUnauthorized, errBody{"invalid session"})
				return
			}
			caller := market.Caller{UserID: claims.Subject, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, caller)))
		})
	}
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (market.Caller, bool) {
	c, ok := ctx.Value(sessionKey).(market.Caller)
	return c, ok
}

// RequireRole gates a subtree to the given roles. Admins pass always.
func RequireRole(roles ...market.Role) func(http.Handler) http.Handler {
	allowed := map[market.Role]bool{market.RoleAdmin: true}
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errBody{"missing session"})
				return
			}
			if !allowed[caller.Role] {
				writeJSON(w, http.StatusForbidden, errBody{"insufficient role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
