package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestParseBearer(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/live", nil)
	if _, ok := ParseBearer(r); ok {
		t.Fatalf("expected no token")
	}

	r.Header.Set("Authorization", "Bearer tok123")
	token, ok := ParseBearer(r)
	if !ok || token != "tok123" {
		t.Fatalf("token=%q ok=%v", token, ok)
	}

	r = httptest.NewRequest("GET", "/v1/live?access_token=qtok", nil)
	token, ok = ParseBearer(r)
	if !ok || token != "qtok" {
		t.Fatalf("query token=%q ok=%v", token, ok)
	}
}

func TestHMACVerifier_Verify(t *testing.T) {
	secret := []byte("super-secret")
	v := HMACVerifier{Secret: secret}

	token := signToken(t, secret, jwt.MapClaims{"sub": "u_42", "exp": time.Now().Add(time.Hour).Unix()})
	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u_42" {
		t.Fatalf("user=%q, want u_42", id.UserID)
	}
}

func TestHMACVerifier_RejectsBadSignature(t *testing.T) {
	v := HMACVerifier{Secret: []byte("right")}
	token := signToken(t, []byte("wrong"), jwt.MapClaims{"sub": "u_1"})
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v, want ErrInvalidToken", err)
	}
}

func TestHMACVerifier_RejectsExpiredAndSubjectless(t *testing.T) {
	secret := []byte("s")
	v := HMACVerifier{Secret: secret}

	expired := signToken(t, secret, jwt.MapClaims{"sub": "u_1", "exp": time.Now().Add(-time.Hour).Unix()})
	if _, err := v.Verify(expired); err == nil {
		t.Fatalf("expected error for expired token")
	}

	noSub := signToken(t, secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if _, err := v.Verify(noSub); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v, want ErrInvalidToken", err)
	}
}
