package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gtm-datalayer/internal/model"
)

// SessionClaims are the claims of an embedded-admin session token.
type SessionClaims struct {
	Dest string `json:"dest"`
	jwt.RegisteredClaims
}

// Shop returns the shop host named by the dest claim.
func (c *SessionClaims) Shop() string {
	u, err := url.Parse(c.Dest)
	if err != nil {
		return ""
	}
	return u.Host
}

type sessionShopKey struct{}

// SessionShop returns the shop authenticated by SessionToken and whether a
// session token was verified for this request.
func SessionShop(ctx context.Context) (string, bool) {
	shop, ok := ctx.Value(sessionShopKey{}).(string)
	return shop, ok
}

// SessionToken returns middleware that requires a bearer session token
// signed with secret (HS256) and issued for audience apiKey. The shop named
// by its dest claim is stored on the request context; handlers compare it
// with the shop they act on.
func SessionToken(apiKey, secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(apiKey),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeUnauthorized(w, "missing session token")
				return
			}

			var claims SessionClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				logger.Warn("session token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w, "invalid session token")
				return
			}

			shop := claims.Shop()
			if shop == "" {
				writeUnauthorized(w, "session token has no destination shop")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionShopKey{}, shop)))
		})
	}
}

// writeUnauthorized answers in the same envelope as the API handlers.
func writeUnauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]*model.APIError{"error": model.NewUnauthorizedError(reason)})
}
