package middleware

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

type staticKeys map[string]crypto.PublicKey

func (k staticKeys) Key(_ context.Context, kid string) (crypto.PublicKey, error) {
	if key, ok := k[kid]; ok {
		return key, nil
	}
	return nil, errors.New("unknown kid")
}

func protected(t *testing.T, v *JWTVerifier) http.Handler {
	t.Helper()
	return AuthJWT(v, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context())))
	}))
}

func TestAuthJWTAcceptsHS256(t *testing.T) {
	v, err := NewJWTVerifier(JWTOptions{Secret: testSecret, Audience: "authenticated"})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	token, err := SignJWT(testSecret, "user-123", "authenticated", time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t, v).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "user-123" {
		t.Fatalf("user id = %q", rec.Body.String())
	}
}

func TestAuthJWTRejects(t *testing.T) {
	v, err := NewJWTVerifier(JWTOptions{Secret: testSecret, Audience: "authenticated"})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	expired, _ := SignJWT(testSecret, "user-123", "authenticated", -time.Minute)
	wrongAud, _ := SignJWT(testSecret, "user-123", "anon", time.Hour)
	wrongSecret, _ := SignJWT("another-secret-another-secret-another", "user-123", "authenticated", time.Hour)
	noSubject, _ := SignJWT(testSecret, "", "authenticated", time.Hour)

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{name: "missing header", header: "", detail: "Missing bearer token"},
		{name: "wrong scheme", header: "Basic abc", detail: "Missing bearer token"},
		{name: "garbage", header: "Bearer not-a-jwt", detail: "Invalid or expired token"},
		{name: "expired", header: "Bearer " + expired, detail: "Invalid or expired token"},
		{name: "wrong audience", header: "Bearer " + wrongAud, detail: "Invalid or expired token"},
		{name: "wrong secret", header: "Bearer " + wrongSecret, detail: "Invalid or expired token"},
		{name: "no subject", header: "Bearer " + noSubject, detail: "Invalid or expired token"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			protected(t, v).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["detail"] != tc.detail || body["type"] != "unauthorized" {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestVerifyRS256WithKeyProvider(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, err := NewJWTVerifier(JWTOptions{Keys: staticKeys{"kid-1": &key.PublicKey}, Audience: "authenticated"})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
			Subject:   "user-rsa",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	sub, err := v.Verify(context.Background(), sign("kid-1"))
	if err != nil || sub != "user-rsa" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}
	if _, err := v.Verify(context.Background(), sign("kid-2")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown kid error = %v", err)
	}

	hs, _ := SignJWT(testSecret, "user-123", "authenticated", time.Hour)
	if _, err := v.Verify(context.Background(), hs); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("hs256 without secret should be rejected, got %v", err)
	}
}

func TestNewJWTVerifierRequiresKeyMaterial(t *testing.T) {
	if _, err := NewJWTVerifier(JWTOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}
