package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the verified client identity a session runs under.
type Identity struct {
	UserID string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		// Browsers cannot set headers on websocket dials, so also accept the
		// token as a query parameter.
		token := strings.TrimSpace(r.URL.Query().Get("access_token"))
		return token, token != ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token, token != ""
}

// Verifier checks an access token and yields the identity it belongs to.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// HMACVerifier validates HS256 JWTs signed with a shared secret. The subject
// claim carries the user id.
type HMACVerifier struct {
	Secret []byte
}

func (v HMACVerifier) Verify(token string) (Identity, error) {
	if len(v.Secret) == 0 {
		return Identity{}, fmt.Errorf("%w: verifier has no secret", ErrInvalidToken)
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{UserID: sub}, nil
}
