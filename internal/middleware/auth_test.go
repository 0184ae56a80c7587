package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/menolisa/billing/internal/handler"
)

var testSecret = []byte("test-secret")

const testAccount = "11111111-1111-1111-1111-111111111111"

func signToken(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func authProbe(t *testing.T, authz string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var gotAccount string
	h := RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = handler.AccountIDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/trial", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, gotAccount
}

func TestRequireAuthValidToken(t *testing.T) {
	rec, account := authProbe(t, "Bearer "+signToken(t, testSecret, testAccount))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if account != testAccount {
		t.Errorf("account in context = %q, want %q", account, testAccount)
	}
}

func TestRequireAuthMissingHeader(t *testing.T) {
	rec, _ := authProbe(t, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthMalformedToken(t *testing.T) {
	rec, _ := authProbe(t, "Bearer not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthWrongSecret(t *testing.T) {
	rec, _ := authProbe(t, "Bearer "+signToken(t, []byte("other-secret"), testAccount))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthSubjectNotUUID(t *testing.T) {
	rec, _ := authProbe(t, "Bearer "+signToken(t, testSecret, "not-a-uuid"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testAccount,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	raw, _ := token.SignedString(testSecret)

	rec, _ := authProbe(t, "Bearer "+raw)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func cronProbe(secret, authz string) *httptest.ResponseRecorder {
	h := RequireCronSecret(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("POST", "/internal/cron/trial-reminders", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireCronSecret(t *testing.T) {
	if rec := cronProbe("s3cret", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Errorf("matching secret: status = %d, want 200", rec.Code)
	}
	if rec := cronProbe("s3cret", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}
	if rec := cronProbe("s3cret", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status = %d, want 401", rec.Code)
	}
	// Unset secret disables the guard.
	if rec := cronProbe("", ""); rec.Code != http.StatusOK {
		t.Errorf("unset secret: status = %d, want 200", rec.Code)
	}
}
