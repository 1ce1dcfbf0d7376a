package utils

import (
	"errors"
	"testing"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func sign(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifyValidToken(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}

	token, err := GenerateToken(testSecret, "u1", "ana", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.ID != "u1" || id.Username != "ana" {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewHMACVerifier(testSecret, "https://auth.example")
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign(t, &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Issuer: "https://auth.example"}}, jwt.SigningMethodHS256, []byte("other"))},
		{"expired", sign(t, &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)), Issuer: "https://auth.example"}}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"no expiry", sign(t, &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://auth.example"}}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong issuer", sign(t, &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Issuer: "https://evil.example"}}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong algorithm", sign(t, &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Issuer: "https://auth.example"}}, jwt.SigningMethodHS512, []byte(testSecret))},
		{"no subject", sign(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Issuer: "https://auth.example"}}, jwt.SigningMethodHS256, []byte(testSecret))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, models.ErrUnauthenticated) {
				t.Errorf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestClaimsFallBackToOIDCFields(t *testing.T) {
	v, _ := NewHMACVerifier(testSecret, "")
	token := sign(t, &Claims{
		PreferredUsername: "bo",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "kc-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, jwt.SigningMethodHS256, []byte(testSecret))

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.ID != "kc-123" || id.Username != "bo" {
		t.Errorf("identity = %+v", id)
	}
}

func TestNewHMACVerifierRequiresSecret(t *testing.T) {
	if _, err := NewHMACVerifier("", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIDs(t *testing.T) {
	if a, b := NewSessionID(), NewSessionID(); a == "" || a == b {
		t.Errorf("session IDs not unique: %q %q", a, b)
	}
	if a, b := NewCorrelationID(), NewCorrelationID(); len(a) != 27 || a == b {
		t.Errorf("correlation IDs: %q %q", a, b)
	}
}
