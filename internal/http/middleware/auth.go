package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/P-KIALA/E-Results-20-sub000/internal/http/httpx"
)

type contextKey string

const senderIDKey contextKey = "senderID"

// SenderJWT enforces an HMAC-signed JWT. The subject claim must be the
// sender's user id (a UUID) and is placed on the request context.
func SenderJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			senderID, err := uuid.Parse(strings.TrimSpace(claims.Subject))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid token subject")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSenderID(r.Context(), senderID.String())))
		})
	}
}

func WithSenderID(ctx context.Context, senderID string) context.Context {
	return context.WithValue(ctx, senderIDKey, senderID)
}

// SenderIDFromContext returns the authenticated sender id if present.
func SenderIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(senderIDKey).(string)
	return id, ok && id != ""
}
