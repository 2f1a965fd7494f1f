package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const actorKey contextKey = "actor"

// requestInfo is shared between the logging and auth middleware so the access
// log can see an actor resolved further down the chain.
type requestInfo struct {
	actor string
}

const requestInfoKey contextKey = "request_info"

// WithActor returns a context carrying the authenticated user id.
func WithActor(ctx context.Context, userID string) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.actor = userID
	}
	return context.WithValue(ctx, actorKey, userID)
}

// CurrentActor returns the authenticated user id, or "" for anonymous requests.
func CurrentActor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok {
		return actor
	}
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		return info.actor
	}
	return ""
}

var errMissingSubject = errors.New("token has no subject")

// ParseToken verifies an HS256 session token and returns its subject.
func ParseToken(secret []byte, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}

// IssueToken signs a session token for userID valid for ttl.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}

// AuthMiddleware resolves the bearer token on each request. Requests without
// an Authorization header pass through anonymously; handlers decide whether
// they need an actor. A header that is present but invalid is rejected.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			userID, err := ParseToken(secret, strings.TrimSpace(token))
			if err != nil {
				log.Warn().Err(err).Str("client_ip", GetClientIP(r)).Msg("auth: rejected session token")
				http.Error(w, "Invalid session token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), userID)))
		})
	}
}
