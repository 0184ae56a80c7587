package middleware

import (
	"crypto/hmac"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/menolisa/billing/internal/handler"
)

// RequireAuth validates the Bearer token and stores the account ID in the
// request context. Tokens are HS256 JWTs whose subject is the account UUID.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := accountFromToken(r, secret)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(handler.WithAccountID(r.Context(), accountID)))
		})
	}
}

func accountFromToken(r *http.Request, secret []byte) (string, error) {
	authz := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	if _, err := uuid.Parse(sub); err != nil {
		return "", fmt.Errorf("subject is not an account id: %w", err)
	}
	return sub, nil
}

// RequireCronSecret guards internal cron endpoints with a shared secret in
// the Authorization header. An empty configured secret disables the check.
func RequireCronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !hmac.Equal([]byte(got), []byte(secret)) {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
